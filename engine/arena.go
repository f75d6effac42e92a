package engine

import (
	"github.com/google/uuid"

	"github.com/nullcollision/volren/environment"
	"github.com/nullcollision/volren/transferfunc"
	"github.com/nullcollision/volren/volume"
)

// textureArena owns every committed texture resource, keyed by handle.
// The engine is the sole owner; samplers borrow resolved pointers for
// the duration of one committed generation. A generation's entries are
// released when the next commit succeeds or on Close.
type textureArena struct {
	grids map[volume.Handle]*volume.BrickGrid
	envs  map[environment.Handle]*environment.Environment
	tfs   map[transferfunc.Handle]*transferfunc.TransferFunction
}

func newTextureArena() *textureArena {
	return &textureArena{
		grids: make(map[volume.Handle]*volume.BrickGrid),
		envs:  make(map[environment.Handle]*environment.Environment),
		tfs:   make(map[transferfunc.Handle]*transferfunc.TransferFunction),
	}
}

func (a *textureArena) putGrid(bg *volume.BrickGrid) volume.Handle {
	a.grids[bg.Handle] = bg
	return bg.Handle
}

func (a *textureArena) grid(h volume.Handle) *volume.BrickGrid { return a.grids[h] }

func (a *textureArena) putEnv(env *environment.Environment) environment.Handle {
	a.envs[env.Handle] = env
	return env.Handle
}

func (a *textureArena) env(h environment.Handle) *environment.Environment { return a.envs[h] }

func (a *textureArena) putTF(tf *transferfunc.TransferFunction) transferfunc.Handle {
	a.tfs[tf.Handle] = tf
	return tf.Handle
}

// release drops a set of handles from every table. Absent handles are
// ignored, so callers can release a generation unconditionally.
func (a *textureArena) release(handles []uuid.UUID) {
	for _, h := range handles {
		delete(a.grids, h)
		delete(a.envs, h)
		delete(a.tfs, h)
	}
}

// size reports how many resources the arena currently owns.
func (a *textureArena) size() int { return len(a.grids) + len(a.envs) + len(a.tfs) }
