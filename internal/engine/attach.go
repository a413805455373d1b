package engine

import (
	"errors"
	"fmt"

	"github.com/jianglan89/rtp-llm/internal/procmgr"
	"github.com/jianglan89/rtp-llm/internal/runtime"
	"github.com/jianglan89/rtp-llm/internal/runtime/process"
)

// attachFunc is swapped in tests.
var attachFunc = process.Attach

// Attach wraps already-running processes in a peer supervisor. Nothing is
// signalled when a pid cannot be attached.
func Attach(pids []int, opts ...procmgr.Option) (*procmgr.RankManager, error) {
	if len(pids) == 0 {
		return nil, errors.New("at least one pid is required")
	}
	seen := make(map[int]struct{}, len(pids))
	handles := make([]runtime.Handle, 0, len(pids))
	for _, pid := range pids {
		if _, dup := seen[pid]; dup {
			return nil, fmt.Errorf("pid %d listed more than once", pid)
		}
		seen[pid] = struct{}{}
		h, err := attachFunc(pid)
		if err != nil {
			return nil, err
		}
		handles = append(handles, h)
	}
	mgr := procmgr.NewRankManager(opts...)
	mgr.SetRanks(handles)
	return mgr, nil
}
