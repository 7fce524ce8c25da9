package mention

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/vedran77/pulse/internal/domain"
)

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    []string
	}{
		{"single", "hello @bob", []string{"bob"}},
		{"end of string", "@alice", []string{"alice"}},
		{"punctuation ends token", "hey @bob, and @Carol!", []string{"bob", "carol"}},
		{"case folded and deduped", "@Bob @bob @BOB", []string{"bob"}},
		{"email is not a mention", "mail bob@example.com", nil},
		{"bare at sign", "look @ this", nil},
		{"underscore and digits", "ping @dev_ops2 now", []string{"dev_ops2"}},
		{"unicode letters", "bok @Željko", []string{"željko"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Extract(tt.content))
		})
	}
}

func TestHandleFallsBackToName(t *testing.T) {
	assert.Equal(t, "bob", Handle(domain.User{Username: "Bob", FirstName: "Robert"}))
	assert.Equal(t, "maryjane", Handle(domain.User{FirstName: "Mary", LastName: "Jane"}))
	assert.Equal(t, "annemarie", Handle(domain.User{FirstName: "Anne-Marie"}))
}

func TestResolveDropsUnknownAndDedupes(t *testing.T) {
	bob := domain.User{ID: uuid.New(), Username: "bob"}
	rob := domain.User{ID: bob.ID, FirstName: "Rob", LastName: "Smith"}
	alice := domain.User{ID: uuid.New(), FirstName: "Alice", LastName: "Wong"}

	got := Resolve([]string{"bob", "BOB", "nobody", "alicewong"}, []domain.User{bob, alice, rob})
	assert.Equal(t, []uuid.UUID{bob.ID, alice.ID}, got)
}

func TestMentionScenarioNonMemberAndSender(t *testing.T) {
	a := domain.User{ID: uuid.New(), Username: "a"}
	bob := domain.User{ID: uuid.New(), Username: "bob"}

	tokens := Extract("hello @bob @carol @a")
	resolved := Resolve(tokens, []domain.User{a, bob})
	assert.ElementsMatch(t, []uuid.UUID{bob.ID, a.ID}, resolved)
	assert.Equal(t, []uuid.UUID{bob.ID}, Recipients(a.ID, resolved))
}
