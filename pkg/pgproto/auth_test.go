package pgproto

import "testing"

func TestHashMD5Password(t *testing.T) {
	hash := HashMD5Password("secret", "app", [4]byte{1, 2, 3, 4})
	if len(hash) != 35 || hash[:3] != "md5" {
		t.Fatalf("unexpected md5 hash format: %s", hash)
	}
}

func TestScramHandshake_RoundTrip(t *testing.T) {
	salt, err := NewScramSalt()
	if err != nil {
		t.Fatalf("NewScramSalt: %v", err)
	}
	cred := DeriveScramCredential("s3cr3t", salt, 4096)

	client, clientFirstMessage, err := NewScramClientHandshake("app", "s3cr3t")
	if err != nil {
		t.Fatalf("NewScramClientHandshake: %v", err)
	}

	var server ScramServerHandshake
	serverFirstMessage, err := server.Start(cred, clientFirstMessage)
	if err != nil {
		t.Fatalf("server.Start: %v", err)
	}

	clientFinalMessage, err := client.Continue(serverFirstMessage)
	if err != nil {
		t.Fatalf("client.Continue: %v", err)
	}

	serverFinalMessage, err := server.Finish(clientFinalMessage)
	if err != nil {
		t.Fatalf("server.Finish: %v", err)
	}
	if serverFinalMessage[:2] != "v=" {
		t.Fatalf("unexpected server-final-message: %s", serverFinalMessage)
	}
}

func TestScramHandshake_WrongPasswordFails(t *testing.T) {
	salt, _ := NewScramSalt()
	cred := DeriveScramCredential("correct-horse", salt, 4096)

	client, clientFirstMessage, _ := NewScramClientHandshake("app", "wrong-password")

	var server ScramServerHandshake
	serverFirstMessage, err := server.Start(cred, clientFirstMessage)
	if err != nil {
		t.Fatalf("server.Start: %v", err)
	}

	clientFinalMessage, err := client.Continue(serverFirstMessage)
	if err != nil {
		t.Fatalf("client.Continue: %v", err)
	}

	if _, err := server.Finish(clientFinalMessage); err == nil {
		t.Fatal("expected auth failure for wrong password")
	}
}
