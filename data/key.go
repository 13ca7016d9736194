/*
Copyright 2026 Dima Krasner

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package data

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
)

// ParsePrivateKey parses private keys.
func ParsePrivateKey(privateKeyPemString string) (any, error) {
	privateKeyPem, _ := pem.Decode([]byte(privateKeyPemString))
	if privateKeyPem == nil {
		return nil, errors.New("no PEM block")
	}

	privateKey, err := x509.ParsePKCS8PrivateKey(privateKeyPem.Bytes)
	if err != nil {
		// fallback for openssl<3.0.0
		privateKey, err = x509.ParsePKCS1PrivateKey(privateKeyPem.Bytes)
		if err != nil {
			return nil, err
		}
	}

	return privateKey, nil
}

// ParseRSAPublicKey parses the publicKeyPem of an actor.
func ParseRSAPublicKey(publicKeyPemString string) (*rsa.PublicKey, error) {
	publicKeyPem, _ := pem.Decode([]byte(publicKeyPemString))
	if publicKeyPem == nil {
		return nil, errors.New("no PEM block")
	}

	publicKey, err := x509.ParsePKIXPublicKey(publicKeyPem.Bytes)
	if err != nil {
		// some servers use PKCS #1
		return x509.ParsePKCS1PublicKey(publicKeyPem.Bytes)
	}

	rsaKey, ok := publicKey.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("wrong key type: %T", publicKey)
	}

	return rsaKey, nil
}

// GenerateRSAKey generates an RSA key pair and returns both halves in PEM form.
func GenerateRSAKey(bits int) (*rsa.PrivateKey, string, string, error) {
	priv, err := rsa.GenerateKey(rand.Reader, bits)
	if err != nil {
		return nil, "", "", err
	}

	privDer, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, "", "", err
	}

	pubDer, err := x509.MarshalPKIXPublicKey(&priv.PublicKey)
	if err != nil {
		return nil, "", "", err
	}

	return priv,
		string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: privDer})),
		string(pem.EncodeToMemory(&pem.Block{Type: "PUBLIC KEY", Bytes: pubDer})),
		nil
}

// GenerateEd25519Key generates an Ed25519 private key and returns it in PEM form.
func GenerateEd25519Key() (ed25519.PrivateKey, string, error) {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, "", err
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, "", err
	}

	return priv, string(pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})), nil
}
