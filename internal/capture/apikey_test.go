package capture

import (
	"strings"
	"testing"
)

func TestGenerateAPIKey_RoundTrip(t *testing.T) {
	plaintext, keyID, secretHash, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if !strings.HasPrefix(plaintext, "cap_") {
		t.Fatalf("plaintext key must carry the cap_ prefix, got %q", plaintext)
	}

	splitID, secret, ok := SplitAPIKey(plaintext)
	if !ok {
		t.Fatalf("generated key must split cleanly, got %q", plaintext)
	}
	if splitID != keyID {
		t.Fatalf("split key id %q does not match generated id %q", splitID, keyID)
	}

	key := APIKey{SecretHash: secretHash}
	if !key.VerifySecret(secret) {
		t.Fatal("generated secret must verify against its own hash")
	}
	if key.VerifySecret(secret + "x") {
		t.Fatal("a tampered secret must not verify")
	}
}

func TestGenerateAPIKey_KeysAreUnique(t *testing.T) {
	first, _, _, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	second, _, _, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate failed: %v", err)
	}
	if first == second {
		t.Fatal("consecutive keys must differ")
	}
}

func TestSplitAPIKey_RejectsMalformedInput(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"no separator", "cap_abc123"},
		{"missing prefix", "key_abc123.secret"},
		{"empty secret", "cap_abc123."},
		{"bare secret", ".secret"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, _, ok := SplitAPIKey(tc.input); ok {
				t.Fatalf("input %q must be rejected", tc.input)
			}
		})
	}
}

func TestNormalizeDomains_OmittedFieldStoresEmptyArray(t *testing.T) {
	// An admin creating a key without allowedDomains leaves the slice nil;
	// nil binds as SQL NULL and the column is NOT NULL.
	domains := normalizeDomains(nil)
	if domains == nil {
		t.Fatal("nil domain list must coalesce to an empty, non-nil slice")
	}
	if len(domains) != 0 {
		t.Fatalf("coalesced list must be empty, got %v", domains)
	}

	given := []string{"example.com"}
	if got := normalizeDomains(given); len(got) != 1 || got[0] != "example.com" {
		t.Fatalf("provided domains must pass through unchanged, got %v", got)
	}
}
