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

package ap

// Signature is the "signature" field of a document signed with a Linked Data Signature.
type Signature struct {
	ID             string `json:"id,omitempty"`
	Type           string `json:"type"`
	Creator        string `json:"creator"`
	Domain         string `json:"domain,omitempty"`
	Nonce          string `json:"nonce"`
	Created        string `json:"created"`
	SignatureValue string `json:"signatureValue"`
}

// Proof is a FEP-8b32 integrity proof.
type Proof struct {
	Context            any    `json:"@context,omitempty"`
	Type               string `json:"type"`
	CryptoSuite        string `json:"cryptosuite"`
	VerificationMethod string `json:"verificationMethod"`
	Purpose            string `json:"proofPurpose"`
	Value              string `json:"proofValue"`
	Created            string `json:"created"`
}
