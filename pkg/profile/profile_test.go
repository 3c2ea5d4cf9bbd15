package profile

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/profilesync/pkg/errors"
)

func TestParseField(t *testing.T) {
	tests := []struct {
		in   string
		want Field
		ok   bool
	}{
		{"NICK NAME", FieldNickname, true},
		{" nick name ", FieldNickname, true},
		{"nick_name", FieldNickname, true},
		{"DateTime Scrap", FieldScrapedAt, true},
		{"EMAIL", 0, false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			f, ok := ParseField(tt.in)
			assert.Equal(t, tt.ok, ok)
			if tt.ok {
				assert.Equal(t, tt.want, f)
			}
		})
	}
}

func TestHeaderMatchesFieldOrder(t *testing.T) {
	h := Header()
	require.Len(t, h, NumFields)
	for i, name := range h {
		f, ok := ParseField(name)
		require.True(t, ok, name)
		assert.Equal(t, Field(i), f)
	}
	h[0] = "mutated"
	assert.Equal(t, "NICK NAME", Header()[0], "Header must return a copy")
}

func TestFromMap_RejectsUnknownFields(t *testing.T) {
	_, err := FromMap(map[string]string{"NICK NAME": "alice", "EMAIL": "a@x", "PHONE": "1"})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Equal(t, []string{"EMAIL", "PHONE"}, e.Details["fields"])
}

func TestFromMap(t *testing.T) {
	r, err := FromMap(map[string]string{"NICK NAME": "Alice", "city": "Lahore"})
	require.NoError(t, err)
	assert.Equal(t, "alice", r.Key())
	assert.Equal(t, "Alice", r.Nickname())
	assert.Equal(t, "Lahore", r.City())
	assert.Equal(t, "", r.Posts())
	assert.Equal(t, map[string]string{"NICK NAME": "Alice", "CITY": "Lahore"}, r.Map())
}

func TestFromRow_PadsAndTruncates(t *testing.T) {
	short := FromRow([]string{"bob", "Karachi"})
	assert.Equal(t, "Karachi", short.City())
	assert.Len(t, short.Values(), NumFields)

	long := make([]string, NumFields+3)
	long[0] = "carol"
	assert.Equal(t, "carol", FromRow(long).Nickname())
}

func TestRecordIsValueType(t *testing.T) {
	a := New("alice")
	b := a
	b.Set(FieldCity, "Lahore")
	assert.Equal(t, "", a.City())
	assert.Equal(t, "Lahore", b.City())

	vals := b.Values()
	vals[FieldCity] = "Multan"
	assert.Equal(t, "Lahore", b.City(), "Values must return a copy")
}

func TestValidate(t *testing.T) {
	assert.NoError(t, New("alice").Validate())
	assert.Error(t, New("   ").Validate())
	assert.Error(t, New("ali\nce").Validate())
}

func TestNormalizeValue(t *testing.T) {
	tests := []struct {
		field Field
		in    string
		want  string
	}{
		{FieldCity, "  lahore   cantt ", "Lahore Cantt"},
		{FieldGender, "female", "FEMALE"},
		{FieldPosts, "1,204 posts", "1204"},
		{FieldAge, "", ""},
		{FieldFriends, "ali | sara;  \n omar", "ali\nsara\nomar"},
		{FieldTags, "||", ""},
		{FieldIntro, "hello   world", "hello world"},
		{FieldNickname, " Alice ", "Alice"},
	}
	for _, tt := range tests {
		t.Run(tt.field.String(), func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeValue(tt.field, tt.in))
		})
	}
}

func TestOutgoing(t *testing.T) {
	r := New(" Alice ")
	r.Set(FieldPosts, "42 posts")
	out := Outgoing(r)
	require.Len(t, out, NumFields)
	assert.Equal(t, "Alice", out[FieldNickname])
	assert.Equal(t, "42", out[FieldPosts])
}

func TestIgnoredAndPreservedDisjoint(t *testing.T) {
	ignored := map[Field]bool{}
	for _, f := range IgnoredFields() {
		ignored[f] = true
	}
	for _, f := range PreserveIfBlankFields() {
		assert.False(t, ignored[f], f.String())
	}
	assert.True(t, ignored[KeyField])
}
