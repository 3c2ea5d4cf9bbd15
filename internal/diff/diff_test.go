package diff

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/profilesync/pkg/config"
	"github.com/ajitpratap0/profilesync/pkg/profile"
)

func vec(pairs map[profile.Field]string) []string {
	v := make([]string, profile.NumFields)
	for f, s := range pairs {
		v[f] = s
	}
	return v
}

func TestCompare(t *testing.T) {
	tests := []struct {
		name        string
		opts        Options
		old, in     map[profile.Field]string
		wantChanged []profile.Field
		want        map[profile.Field]string
	}{
		{
			name:        "identical",
			opts:        DefaultOptions(),
			old:         map[profile.Field]string{profile.FieldNickname: "alice", profile.FieldCity: "Paris"},
			in:          map[profile.Field]string{profile.FieldNickname: "alice", profile.FieldCity: "Paris"},
			wantChanged: nil,
			want:        map[profile.Field]string{profile.FieldCity: "Paris"},
		},
		{
			name:        "changed city",
			opts:        DefaultOptions(),
			old:         map[profile.Field]string{profile.FieldNickname: "alice", profile.FieldCity: "Paris"},
			in:          map[profile.Field]string{profile.FieldNickname: "alice", profile.FieldCity: "Lahore"},
			wantChanged: []profile.Field{profile.FieldCity},
			want:        map[profile.Field]string{profile.FieldCity: "Lahore"},
		},
		{
			name:        "preserve posts when blank",
			opts:        DefaultOptions(),
			old:         map[profile.Field]string{profile.FieldNickname: "alice", profile.FieldPosts: "42"},
			in:          map[profile.Field]string{profile.FieldNickname: "alice", profile.FieldPosts: ""},
			wantChanged: nil,
			want:        map[profile.Field]string{profile.FieldPosts: "42"},
		},
		{
			name:        "ignored field written through",
			opts:        DefaultOptions(),
			old:         map[profile.Field]string{profile.FieldNickname: "alice", profile.FieldScrapedAt: "2024-01-01 10:00:00"},
			in:          map[profile.Field]string{profile.FieldNickname: "Alice", profile.FieldScrapedAt: "2024-02-01 10:00:00"},
			wantChanged: nil,
			want:        map[profile.Field]string{profile.FieldNickname: "Alice", profile.FieldScrapedAt: "2024-02-01 10:00:00"},
		},
		{
			name:        "blank status is a change",
			opts:        DefaultOptions(),
			old:         map[profile.Field]string{profile.FieldStatus: "Normal"},
			in:          map[profile.Field]string{profile.FieldStatus: ""},
			wantChanged: []profile.Field{profile.FieldStatus},
			want:        map[profile.Field]string{profile.FieldStatus: ""},
		},
		{
			name:        "audit arrows",
			opts:        Options{AuditArrows: true},
			old:         map[profile.Field]string{profile.FieldCity: "Paris"},
			in:          map[profile.Field]string{profile.FieldCity: "Lahore"},
			wantChanged: []profile.Field{profile.FieldCity},
			want:        map[profile.Field]string{profile.FieldCity: "Paris → Lahore"},
		},
		{
			name:        "audit arrow stripped before comparing",
			opts:        Options{AuditArrows: true},
			old:         map[profile.Field]string{profile.FieldCity: "Paris → Lahore"},
			in:          map[profile.Field]string{profile.FieldCity: "Lahore"},
			wantChanged: nil,
			want:        map[profile.Field]string{profile.FieldCity: "Lahore"},
		},
		{
			name:        "audit arrow omitted when old is blank",
			opts:        Options{AuditArrows: true},
			old:         map[profile.Field]string{},
			in:          map[profile.Field]string{profile.FieldCity: "Lahore"},
			wantChanged: []profile.Field{profile.FieldCity},
			want:        map[profile.Field]string{profile.FieldCity: "Lahore"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := New(tt.opts).Compare(vec(tt.old), vec(tt.in))
			assert.Equal(t, tt.wantChanged, res.Changed)
			require.Len(t, res.Values, profile.NumFields)
			for f, want := range tt.want {
				assert.Equal(t, want, res.Values[f], f.String())
			}
		})
	}
}

func TestCompare_ShortOldIsBlank(t *testing.T) {
	d := New(DefaultOptions())
	res := d.Compare([]string{"alice"}, vec(map[profile.Field]string{
		profile.FieldNickname: "alice",
		profile.FieldCity:     "Rome",
	}))
	assert.Equal(t, []string{"CITY"}, res.ChangedNames())
	assert.True(t, res.HasChanges())
}

func TestCompare_BlankToken(t *testing.T) {
	d := New(OptionsFromConfig(config.UpsertConfig{BlankPolicy: config.BlankToken}))

	res := d.Compare(nil, vec(map[profile.Field]string{profile.FieldNickname: "alice"}))
	assert.Equal(t, "alice", res.Values[profile.FieldNickname])
	assert.Equal(t, BlankToken, res.Values[profile.FieldCity])

	// a stored token reads as blank, so rewriting the same record is unchanged
	again := d.Compare(res.Values, vec(map[profile.Field]string{profile.FieldNickname: "alice"}))
	assert.False(t, again.HasChanges())
	assert.Equal(t, res.Values, again.Values)
}

func TestCompare_Idempotent(t *testing.T) {
	d := New(DefaultOptions())
	in := vec(map[profile.Field]string{
		profile.FieldNickname: "bob",
		profile.FieldCity:     "Rome",
		profile.FieldPosts:    "7",
	})

	first := d.Compare(nil, in)
	second := d.Compare(first.Values, in)

	assert.False(t, second.HasChanges())
	assert.Equal(t, in, second.Values)
}
