package engine

// Profile is the tiling and precision setup for a quality tier. Tile 0 means
// the whole image in one pass.
type Profile struct {
	Tile    int  `json:"tile"`
	TilePad int  `json:"tile_pad"`
	PrePad  int  `json:"pre_pad"`
	Half    bool `json:"half"`
}

var profiles = map[string]Profile{
	"fast":     {Tile: 0, TilePad: 8, PrePad: 0, Half: true},
	"balanced": {Tile: 200, TilePad: 10, PrePad: 0, Half: true},
	"best":     {Tile: 0, TilePad: 10, PrePad: 0, Half: false},
}

// ProfileFor returns the profile of a quality tier (balanced when unknown).
// useFP16=false forces full precision.
func ProfileFor(quality string, useFP16 bool) Profile {
	p, ok := profiles[quality]
	if !ok {
		p = profiles["balanced"]
	}
	if !useFP16 {
		p.Half = false
	}
	return p
}

// bounded returns p with its tile capped at tile.
func (p Profile) bounded(tile int) Profile {
	if tile > 0 && (p.Tile == 0 || p.Tile > tile) {
		p.Tile = tile
	}
	return p
}
