package gestures

import "testing"

func TestWireTokens(t *testing.T) {
	cases := []struct {
		command Command
		token   string
	}{
		{CommandIdle, "park"},
		{CommandListen, "listen"},
		{CommandThink, "think"},
		{CommandTalk, "talk"},
		{CommandStop, "stop"},
	}

	for _, c := range cases {
		token, err := c.command.WireToken()
		if err != nil {
			t.Fatalf("WireToken(%q) returned error: %v", c.command, err)
		}
		if token != c.token {
			t.Errorf("WireToken(%q) = %q, expected %q", c.command, token, c.token)
		}
	}
}

func TestUnknownCommandRejected(t *testing.T) {
	if _, err := Command("wave").WireToken(); err == nil {
		t.Error("expected error for command outside the vocabulary")
	}
	if Command("wave").IsValid() {
		t.Error("expected IsValid to reject command outside the vocabulary")
	}
}

func TestNopLink(t *testing.T) {
	link := NopLink{}
	if err := link.Send(CommandTalk); err != nil {
		t.Errorf("NopLink.Send returned error: %v", err)
	}
	if err := link.Close(); err != nil {
		t.Errorf("NopLink.Close returned error: %v", err)
	}
}
