package rag

import (
	"strings"
	"testing"
)

func TestExtract_RanksExactPhraseFirst(t *testing.T) {
	contents := []string{
		"Hydration matters every day. To start keto you should reduce carbohydrate intake below fifty grams. Sleep also helps recovery.",
	}
	got := Extract("how do I start keto", contents)
	if len(got) == 0 {
		t.Fatal("no sentences extracted")
	}
	if !strings.Contains(got[0], "start keto") {
		t.Errorf("top sentence = %q, want the one containing the query phrase", got[0])
	}
}

func TestExtract_NoOverlapYieldsEmpty(t *testing.T) {
	contents := []string{
		"Photosynthesis converts sunlight into chemical energy inside chloroplasts.",
	}
	if got := Extract("weight loss plateau", contents); len(got) != 0 {
		t.Errorf("Extract = %v, want empty", got)
	}
}

func TestExtract_SynonymExpansion(t *testing.T) {
	contents := []string{
		"Most people should begin with a simple eating plan before anything else.",
	}
	// "start" never appears in the text but shares a cluster with "begin".
	got := Extract("where do I start", contents)
	if len(got) != 1 {
		t.Fatalf("Extract = %v, want the begin sentence", got)
	}
}

func TestExtract_DropsShortSentencesAndShortKeywords(t *testing.T) {
	contents := []string{
		"Keto helps. A ketogenic diet reduces carbohydrate intake substantially over time.",
	}
	got := Extract("is keto ok", contents)
	// "is" and "ok" are below the keyword length floor; "keto" carries
	// the query. "Keto helps." is under the sentence length floor.
	if len(got) != 1 {
		t.Fatalf("Extract = %v, want exactly one sentence", got)
	}
	if strings.Contains(got[0], "Keto helps") {
		t.Errorf("short sentence survived: %q", got[0])
	}
}

func TestExtract_CapsAtFive(t *testing.T) {
	var b strings.Builder
	for range 8 {
		b.WriteString("This sentence mentions protein and muscle recovery today. ")
	}
	got := Extract("protein for muscle recovery", []string{b.String()})
	if len(got) != 5 {
		t.Errorf("Extract returned %d sentences, want 5", len(got))
	}
}

func TestExtract_ScoreOrdering(t *testing.T) {
	contents := []string{
		"Protein supports muscle growth and recovery after training sessions.",
		"Some people track protein intake casually without much thought.",
	}
	got := Extract("protein muscle recovery training", contents)
	if len(got) != 2 {
		t.Fatalf("Extract = %v, want 2 sentences", got)
	}
	if !strings.Contains(got[0], "growth") {
		t.Errorf("higher-scoring sentence not first: %q", got[0])
	}
}
