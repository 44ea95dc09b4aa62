package sync

import (
	"cmp"
	"slices"

	"github.com/geogram-dev/geomirror/internal/ignore"
	"github.com/geogram-dev/geomirror/internal/manifest"
	"github.com/geogram-dev/geomirror/internal/model"
)

// ActionKind is what the executor does with one path.
type ActionKind string

const (
	// ActionDownload copies the remote file over the local one.
	ActionDownload ActionKind = "download"
	// ActionUpload copies the local file to the peer.
	ActionUpload ActionKind = "upload"
	// ActionDeleteLocal removes the local file.
	ActionDeleteLocal ActionKind = "delete_local"
	// ActionDeleteRemote removes the file on the peer.
	ActionDeleteRemote ActionKind = "delete_remote"
	// ActionSkip leaves both sides untouched.
	ActionSkip ActionKind = "skip"
)

// Reasons attached to actions.
const (
	ReasonRemoteOnly  = "only on peer"
	ReasonLocalOnly   = "only local"
	ReasonRemoteNewer = "peer copy is newer"
	ReasonLocalNewer  = "local copy is newer"
	ReasonTie         = "same modification time, peer wins"
	ReasonIdentical   = "identical"
	ReasonNoReceive   = "style does not receive"
	ReasonNoSend      = "style does not send"
	ReasonPaused      = "app paused"
)

// Action is one step of a session. Actions are never persisted.
type Action struct {
	Kind   ActionKind
	Path   string
	Reason string
	// Entry describes the source of the transfer: the remote entry for a
	// download, the local entry for an upload.
	Entry manifest.Entry
	// Replaces is set when the destination already has a different version.
	Replaces bool
}

// IsTransfer reports whether the action moves file content.
func (a Action) IsTransfer() bool {
	return a.Kind == ActionDownload || a.Kind == ActionUpload
}

var kindOrder = map[ActionKind]int{
	ActionDownload:     0,
	ActionUpload:       1,
	ActionDeleteLocal:  2,
	ActionDeleteRemote: 3,
	ActionSkip:         4,
}

// ComputeActions reconciles the local and remote manifests of one app folder.
//
// Ignored paths yield no action. A path present on one side only is copied to
// the other side when the style allows that direction. A path present on both
// sides with different hashes goes to the side with the older copy; equal
// modification times resolve in favor of the peer. Missing files never produce
// deletes. The result is grouped downloads, uploads, skips and sorted by path
// within each group.
func ComputeActions(local, remote manifest.Manifest, style model.SyncStyle, ig *ignore.Matcher) []Action {
	var actions []Action

	paths := make(map[string]struct{}, len(local)+len(remote))
	for p := range local {
		paths[p] = struct{}{}
	}
	for p := range remote {
		paths[p] = struct{}{}
	}

	for p := range paths {
		if ig.Match(p) {
			continue
		}
		l, inLocal := local[p]
		r, inRemote := remote[p]

		if style == model.StylePaused {
			actions = append(actions, Action{Kind: ActionSkip, Path: p, Reason: ReasonPaused})
			continue
		}

		switch {
		case inRemote && !inLocal:
			actions = append(actions, download(p, r, false, ReasonRemoteOnly, style))
		case inLocal && !inRemote:
			actions = append(actions, upload(p, l, false, ReasonLocalOnly, style))
		case l.Hash == r.Hash:
			actions = append(actions, Action{Kind: ActionSkip, Path: p, Reason: ReasonIdentical})
		default:
			lm, rm := l.ModifiedAt.UnixMilli(), r.ModifiedAt.UnixMilli()
			switch {
			case rm > lm:
				actions = append(actions, download(p, r, true, ReasonRemoteNewer, style))
			case lm > rm:
				actions = append(actions, upload(p, l, true, ReasonLocalNewer, style))
			default:
				actions = append(actions, download(p, r, true, ReasonTie, style))
			}
		}
	}

	SortActions(actions)
	return actions
}

// SortActions orders actions by kind group, then path.
func SortActions(actions []Action) {
	slices.SortFunc(actions, func(a, b Action) int {
		return cmp.Or(
			cmp.Compare(kindOrder[a.Kind], kindOrder[b.Kind]),
			cmp.Compare(a.Path, b.Path),
		)
	})
}

func download(p string, remote manifest.Entry, replaces bool, reason string, style model.SyncStyle) Action {
	if !style.CanReceive() {
		return Action{Kind: ActionSkip, Path: p, Reason: ReasonNoReceive}
	}
	return Action{Kind: ActionDownload, Path: p, Reason: reason, Entry: remote, Replaces: replaces}
}

func upload(p string, local manifest.Entry, replaces bool, reason string, style model.SyncStyle) Action {
	if !style.CanSend() {
		return Action{Kind: ActionSkip, Path: p, Reason: ReasonNoSend}
	}
	return Action{Kind: ActionUpload, Path: p, Reason: reason, Entry: local, Replaces: replaces}
}

// Plan summarizes a list of actions.
type Plan struct {
	Downloads int
	Uploads   int
	Deletes   int
	Skips     int
	Bytes     int64
}

// Summarize counts actions by kind and sums transfer sizes.
func Summarize(actions []Action) Plan {
	var p Plan
	for _, a := range actions {
		if a.IsTransfer() {
			p.Bytes += a.Entry.Size
		}
		switch a.Kind {
		case ActionDownload:
			p.Downloads++
		case ActionUpload:
			p.Uploads++
		case ActionDeleteLocal, ActionDeleteRemote:
			p.Deletes++
		case ActionSkip:
			p.Skips++
		}
	}
	return p
}

// Work returns the number of actions that touch a file.
func (p Plan) Work() int {
	return p.Downloads + p.Uploads + p.Deletes
}
