package catalog

import "testing"

func TestLookup(t *testing.T) {
	p, ok := Lookup("openai")
	if !ok {
		t.Fatal("expected openai in catalog")
	}
	if p.Name != "OpenAI" {
		t.Errorf("Name = %q, want OpenAI", p.Name)
	}
	if p.BaseURL != "https://api.openai.com/v1" {
		t.Errorf("unexpected BaseURL %q", p.BaseURL)
	}

	if _, ok := Lookup("no-such-provider"); ok {
		t.Error("expected lookup miss for unknown provider")
	}
}

func TestProvidersSorted(t *testing.T) {
	ps := Providers()
	if len(ps) == 0 {
		t.Fatal("catalog is empty")
	}
	for i := 1; i < len(ps); i++ {
		if ps[i-1].ID >= ps[i].ID {
			t.Errorf("providers not sorted: %q before %q", ps[i-1].ID, ps[i].ID)
		}
	}
}

func TestProvidersIsPure(t *testing.T) {
	first := Providers()
	second := Providers()
	if len(first) != len(second) {
		t.Fatalf("length changed between calls: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].ID != second[i].ID {
			t.Errorf("entry %d differs: %q vs %q", i, first[i].ID, second[i].ID)
		}
	}
}

func TestFindModel(t *testing.T) {
	if _, ok := FindModel("openai", "gpt-4o"); !ok {
		t.Error("expected gpt-4o under openai")
	}
	if _, ok := FindModel("openai", "claude-3-opus-20240229"); ok {
		t.Error("claude model should not resolve under openai")
	}
}

func TestKeyless(t *testing.T) {
	if !Keyless("ollama") {
		t.Error("ollama should be keyless")
	}
	if Keyless("openai") {
		t.Error("openai should require a key")
	}
}

func TestDocumentChatPin(t *testing.T) {
	if _, ok := FindModel(DocumentChatProvider, DocumentChatModel); !ok {
		t.Errorf("document-chat pin %s/%s missing from catalog", DocumentChatProvider, DocumentChatModel)
	}
}
