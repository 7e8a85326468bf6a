package chatservice

import "testing"

func TestStripMentionPlainForm(t *testing.T) {
	stripped, mentioned := StripMention("<@123> hello there", "123")
	if !mentioned {
		t.Fatal("expected mentioned=true")
	}
	if stripped != "hello there" {
		t.Fatalf("unexpected stripped content: %q", stripped)
	}
}

func TestStripMentionNicknameForm(t *testing.T) {
	stripped, mentioned := StripMention("<@!123> hello there", "123")
	if !mentioned {
		t.Fatal("expected mentioned=true")
	}
	if stripped != "hello there" {
		t.Fatalf("unexpected stripped content: %q", stripped)
	}
}

func TestStripMentionNoMention(t *testing.T) {
	stripped, mentioned := StripMention("hello there", "123")
	if mentioned {
		t.Fatal("expected mentioned=false")
	}
	if stripped != "hello there" {
		t.Fatalf("unexpected stripped content: %q", stripped)
	}
}

func TestStripMentionOfDifferentUser(t *testing.T) {
	stripped, mentioned := StripMention("<@999> hello there", "123")
	if mentioned {
		t.Fatal("expected mentioned=false for a different user's mention")
	}
	if stripped != "<@999> hello there" {
		t.Fatalf("unexpected stripped content: %q", stripped)
	}
}
