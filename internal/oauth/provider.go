// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package oauth

import (
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/oauth2/microsoft"
)

// Provider describes a vendor authorization server.
type Provider struct {
	// Name is shown in the login form ("Google", "Microsoft").
	Name string

	// Endpoint holds the vendor's authorization and token URLs.
	Endpoint oauth2.Endpoint

	// LinkType is the form field type the orchestrator renders as a login button.
	LinkType string

	// Prompt is the prompt parameter that forces account selection or consent.
	Prompt string
}

// Google returns the Google provider. Consent is forced so that every
// login yields a refresh token.
func Google() Provider {
	return Provider{
		Name:     "Google",
		Endpoint: google.Endpoint,
		LinkType: "oauth_link_google",
		Prompt:   "consent",
	}
}

// Microsoft returns the Azure AD provider for tenant ("common" when empty).
func Microsoft(tenant string) Provider {
	if tenant == "" {
		tenant = "common"
	}
	return Provider{
		Name:     "Microsoft",
		Endpoint: microsoft.AzureADEndpoint(tenant),
		LinkType: "oauth_link",
		Prompt:   "select_account",
	}
}
