// Package procmgr supervises a fixed set of cooperating processes as one
// unit. Either every process keeps running, or the whole set is torn down:
// the first observed death or an explicit shutdown request sends a soft
// terminate to every survivor, and anything still alive once the grace
// window elapses is hard-killed before all handles are joined.
//
// ServerManager groups one backend with its frontends; RankManager groups
// symmetric peer ranks. Both share the Supervisor monitor loop.
package procmgr
