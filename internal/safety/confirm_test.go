package safety

import (
	"sync"
	"testing"
	"time"
)

// fakeClock returns a Confirmations whose clock is advanced by the returned func.
func fakeClock(ttl time.Duration) (*Confirmations, func(time.Duration)) {
	c := NewConfirmations(ttl)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	c.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}
	return c, func(d time.Duration) {
		mu.Lock()
		now = now.Add(d)
		mu.Unlock()
	}
}

func Test_Confirmations_Confirm_Cases(t *testing.T) {
	const fp = "mutation Catch { catch { id } }|{}"

	tests := []struct {
		name        string
		advance     time.Duration
		token       func(c *Confirmations) string
		fingerprint string
		want        bool
	}{
		{
			name:        "valid token confirms",
			token:       func(c *Confirmations) string { return c.Request(fp) },
			fingerprint: fp,
			want:        true,
		},
		{
			name:        "empty token",
			token:       func(*Confirmations) string { return "" },
			fingerprint: fp,
			want:        false,
		},
		{
			name:        "unknown token",
			token:       func(*Confirmations) string { return "not-a-token" },
			fingerprint: fp,
			want:        false,
		},
		{
			name:        "different operation",
			token:       func(c *Confirmations) string { return c.Request(fp) },
			fingerprint: "mutation Release { release { id } }|{}",
			want:        false,
		},
		{
			name:        "expired token",
			advance:     time.Minute + time.Second,
			token:       func(c *Confirmations) string { return c.Request(fp) },
			fingerprint: fp,
			want:        false,
		},
		{
			name:        "token at the ttl boundary",
			advance:     time.Minute,
			token:       func(c *Confirmations) string { return c.Request(fp) },
			fingerprint: fp,
			want:        true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, advance := fakeClock(time.Minute)
			token := tt.token(c)
			advance(tt.advance)
			if got := c.Confirm(token, tt.fingerprint); got != tt.want {
				t.Errorf("Confirm() = %v, want %v", got, tt.want)
			}
		})
	}
}

func Test_Confirmations_SingleUse(t *testing.T) {
	c := NewConfirmations(0)
	token := c.Request("fp")
	if !c.Confirm(token, "fp") {
		t.Fatal("first Confirm should succeed")
	}
	if c.Confirm(token, "fp") {
		t.Error("second Confirm with the same token should fail")
	}
}

func Test_Confirmations_MismatchConsumesToken(t *testing.T) {
	c := NewConfirmations(0)
	token := c.Request("fp")
	if c.Confirm(token, "other") {
		t.Fatal("Confirm with the wrong fingerprint should fail")
	}
	if c.Confirm(token, "fp") {
		t.Error("token should be consumed by the failed attempt")
	}
}

func Test_Confirmations_RequestSweepsExpired(t *testing.T) {
	c, advance := fakeClock(time.Minute)
	c.Request("a")
	c.Request("b")
	advance(2 * time.Minute)
	c.Request("c")
	if got := c.Pending(); got != 1 {
		t.Errorf("Pending() = %d, want 1", got)
	}
}

func Test_Confirmations_DefaultTTL(t *testing.T) {
	if c := NewConfirmations(-1); c.ttl != DefaultTokenTTL {
		t.Errorf("ttl = %v, want %v", c.ttl, DefaultTokenTTL)
	}
}

func Test_Confirmations_Concurrent(t *testing.T) {
	c := NewConfirmations(0)
	const n = 50
	tokens := make([]string, n)
	for i := range tokens {
		tokens[i] = c.Request("fp")
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	confirmed := 0
	for _, tok := range tokens {
		for range 2 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if c.Confirm(tok, "fp") {
					mu.Lock()
					confirmed++
					mu.Unlock()
				}
			}()
		}
	}
	wg.Wait()

	if confirmed != n {
		t.Errorf("confirmed = %d, want %d", confirmed, n)
	}
}
