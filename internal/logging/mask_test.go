package logging_test

import (
	"github.com/myrjola/callagent/internal/logging"
	"github.com/stretchr/testify/require"
	"testing"
)

func TestMaskPhone(t *testing.T) {
	tests := []struct {
		name  string
		phone string
		want  string
	}{
		{
			name:  "international number",
			phone: "+358401234567",
			want:  "+3584…567",
		},
		{
			name:  "short number",
			phone: "12345",
			want:  "…",
		},
		{
			name:  "empty",
			phone: "",
			want:  "…",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, logging.MaskPhone(tt.phone))
		})
	}
}
