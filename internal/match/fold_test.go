package match

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFold(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"José Ferrer", "jose ferrer"},
		{"  Fred   Astaire ", "fred astaire"},
		{"BRIGITTE BARDOT", "brigitte bardot"},
		{"Renée Zellweger", "renee zellweger"},
		{"Ingrid Bergman", "ingrid bergman"},
		{"", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Fold(tt.in))
	}
}

func TestSame(t *testing.T) {
	assert.True(t, Same("José Ferrer", "Jose Ferrer"))
	assert.True(t, Same("fred astaire", "Fred  Astaire"))
	assert.False(t, Same("Fred Astaire", "Adele Astaire"))
}

func TestContains(t *testing.T) {
	assert.True(t, Contains("José Ferrer (actor)", "Jose Ferrer"))
	assert.True(t, Contains("Obituary: Renee Zellweger's co-star", "Renée Zellweger"))
	assert.False(t, Contains("Fred Astaire", "Ginger Rogers"))
	assert.False(t, Contains("anything", ""))
}
