package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeCommand(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		in      string
		want    Command
		wantErr bool
	}{
		{name: "move", in: `{"t":"move","dx":12.5,"dy":-3}`, want: Command{Kind: KindMove, DX: 12.5, DY: -3}},
		{name: "numeric strings", in: `{"t":"scroll","dx":"4","dy":"-1.5"}`, want: Command{Kind: KindScroll, DX: 4, DY: -1.5}},
		{name: "missing deltas", in: `{"t":"move"}`, want: Command{Kind: KindMove}},
		{name: "text", in: `{"t":"text","text":"hi\nthere"}`, want: Command{Kind: KindText, Text: "hi\nthere"}},
		{name: "non string text ignored", in: `{"t":"text","text":42}`, want: Command{Kind: KindText}},
		{name: "key", in: `{"t":"key","key":"enter"}`, want: Command{Kind: KindKey, Key: "enter"}},
		{name: "volume", in: `{"t":"volume","action":"mute"}`, want: Command{Kind: KindVolume, Action: "mute"}},
		{name: "unknown type kept", in: `{"t":"wiggle"}`, want: Command{Kind: "wiggle"}},
		{name: "array", in: `[1,2]`, wantErr: true},
		{name: "not json", in: `hello`, wantErr: true},
		{name: "bad number", in: `{"t":"move","dx":"far"}`, wantErr: true},
		{name: "empty", in: ``, wantErr: true},
		{name: "nan string", in: `{"t":"scroll","dy":"NaN"}`, wantErr: true},
		{name: "infinite string", in: `{"t":"move","dx":"-Inf"}`, wantErr: true},
		{name: "number out of float range", in: `{"t":"move","dx":1e400}`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := DecodeCommand([]byte(tt.in))
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
