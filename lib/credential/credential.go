// Copyright 2026 The Cowork Authors
// SPDX-License-Identifier: Apache-2.0

// Package credential assembles per-provider API credentials into the
// bundle the worker expects at task start.
//
// The bundle is rebuilt from the secret store on every task start —
// never cached — because the store is the source of truth and may have
// changed between tasks. Providers with no stored secret are simply
// absent from the bundle.
package credential

import (
	"encoding/json"
	"fmt"
)

// Provider identifiers accepted by the secret store and the worker.
// This set is closed: the worker's credential handling and the
// keychain's entry naming both depend on it, so adding a provider is a
// coordinated change, not a config knob.
const (
	ProviderAnthropic    = "anthropic"
	ProviderOpenAI       = "openai"
	ProviderGoogle       = "google"
	ProviderXAI          = "xai"
	ProviderDeepSeek     = "deepseek"
	ProviderZAI          = "zai"
	ProviderOpenRouter   = "openrouter"
	ProviderLiteLLM      = "litellm"
	ProviderOllama       = "ollama"
	ProviderAzureFoundry = "azure-foundry"
	ProviderBedrock      = "bedrock"
	ProviderCustom       = "custom"
)

// Providers lists every known provider identifier.
var Providers = []string{
	ProviderAnthropic,
	ProviderOpenAI,
	ProviderGoogle,
	ProviderXAI,
	ProviderDeepSeek,
	ProviderZAI,
	ProviderOpenRouter,
	ProviderLiteLLM,
	ProviderOllama,
	ProviderAzureFoundry,
	ProviderBedrock,
	ProviderCustom,
}

// KnownProvider reports whether id is a recognized provider identifier.
func KnownProvider(id string) bool {
	for _, provider := range Providers {
		if provider == id {
			return true
		}
	}
	return false
}

// Store is the secret store the assembler reads from. Implemented by
// lib/keychain. Get returns the stored secret for a provider, or
// found=false when none is stored (not an error).
type Store interface {
	Get(provider string) (value string, found bool, err error)
}

// BedrockCredentials is the structured credential for the Bedrock
// provider. Unlike every other provider, Bedrock needs three named
// fields rather than a single opaque key, and the worker expects the
// structured form — do not flatten it to a string.
type BedrockCredentials struct {
	AccessKeyID     string `json:"accessKeyId"`
	SecretAccessKey string `json:"secretAccessKey"`
	Region          string `json:"region"`
}

// Keys is the per-provider credential bundle sent to the worker in a
// StartTask payload. Field names are part of the wire protocol.
type Keys struct {
	Anthropic    string              `json:"anthropic,omitempty"`
	OpenAI       string              `json:"openai,omitempty"`
	Google       string              `json:"google,omitempty"`
	XAI          string              `json:"xai,omitempty"`
	DeepSeek     string              `json:"deepseek,omitempty"`
	OpenRouter   string              `json:"openrouter,omitempty"`
	LiteLLM      string              `json:"litellm,omitempty"`
	Ollama       string              `json:"ollama,omitempty"`
	AzureFoundry string              `json:"azureFoundry,omitempty"`
	Bedrock      *BedrockCredentials `json:"bedrock,omitempty"`
}

// Assemble queries the store once per known provider and returns the
// resulting bundle. A provider with no stored secret is omitted. The
// Bedrock entry is stored as a JSON document; an entry that does not
// parse as BedrockCredentials is skipped (the worker cannot use a
// malformed structured credential, and failing the whole task start
// over one stale entry would be worse).
func Assemble(store Store) (*Keys, error) {
	keys := &Keys{}

	assignments := map[string]*string{
		ProviderAnthropic:    &keys.Anthropic,
		ProviderOpenAI:       &keys.OpenAI,
		ProviderGoogle:       &keys.Google,
		ProviderXAI:          &keys.XAI,
		ProviderDeepSeek:     &keys.DeepSeek,
		ProviderOpenRouter:   &keys.OpenRouter,
		ProviderLiteLLM:      &keys.LiteLLM,
		ProviderOllama:       &keys.Ollama,
		ProviderAzureFoundry: &keys.AzureFoundry,
	}
	for provider, target := range assignments {
		value, found, err := store.Get(provider)
		if err != nil {
			return nil, fmt.Errorf("reading %s credential: %w", provider, err)
		}
		if found {
			*target = value
		}
	}

	stored, found, err := store.Get(ProviderBedrock)
	if err != nil {
		return nil, fmt.Errorf("reading bedrock credential: %w", err)
	}
	if found {
		var bedrock BedrockCredentials
		if json.Unmarshal([]byte(stored), &bedrock) == nil {
			keys.Bedrock = &bedrock
		}
	}

	return keys, nil
}
