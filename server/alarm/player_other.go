//go:build !linux

package alarm

// NewPlayer reports ErrUnsupported alongside a Silent player.
func NewPlayer(string) (Player, error) {
	return Silent{}, ErrUnsupported
}
