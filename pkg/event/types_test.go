package event

import (
	"testing"

	"github.com/goccy/go-json"
)

// TestCompletionJSON はCompletionのJSON表現を検証する。
func TestCompletionJSON(t *testing.T) {
	t.Parallel()

	t.Run("ストリーミング断片では空のフィールドが省略されること", func(t *testing.T) {
		t.Parallel()

		c := Completion{
			Object:  ObjectCompletionChunk,
			Choices: []Choice{{Index: 0, Delta: &Delta{Content: "he"}}},
		}

		got, err := json.Marshal(c)
		if err != nil {
			t.Fatalf("json.Marshal()でエラーが発生: %v", err)
		}
		want := `{"object":"chat.completion.chunk","choices":[{"index":0,"delta":{"content":"he"}}]}`
		if string(got) != want {
			t.Errorf("json = %s, want %s", got, want)
		}
	})

	t.Run("session_stateがそのまま含まれること", func(t *testing.T) {
		t.Parallel()

		c := Completion{
			Object: ObjectCompletion,
			Choices: []Choice{{
				Message:      &Message{Role: RoleAssistant, Content: "hello"},
				FinishReason: "stop",
				SessionState: "abc",
			}},
		}

		got, err := json.Marshal(c)
		if err != nil {
			t.Fatalf("json.Marshal()でエラーが発生: %v", err)
		}
		want := `{"object":"chat.completion","choices":[{"index":0,"message":{"role":"assistant","content":"hello"},"finish_reason":"stop","session_state":"abc"}]}`
		if string(got) != want {
			t.Errorf("json = %s, want %s", got, want)
		}
	})
}

// TestRole はRole定数の値を検証する。
func TestRole(t *testing.T) {
	t.Parallel()

	tests := []struct {
		role Role
		want string
	}{
		{RoleSystem, "system"},
		{RoleUser, "user"},
		{RoleAssistant, "assistant"},
	}
	for _, tt := range tests {
		if string(tt.role) != tt.want {
			t.Errorf("Role = %q, want %q", tt.role, tt.want)
		}
	}
}
