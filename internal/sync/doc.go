// Package sync mirrors one app folder with a remote peer.
//
// A session for a (peer, app) pair fetches the peer's manifest, diffs it
// against a scan of the local folder, and applies the resulting actions:
//
//	result, err := engine.SyncFolder(ctx, peerID, "chat", nil)
//	if err != nil {
//	    // result.Success is false and result.Err holds the cause
//	}
//
// # Progress
//
// Status values are streamed on a channel while the session runs. Intermediate
// updates are dropped when the receiver lags; the terminal update is always
// delivered, after which the channel is closed. Start wraps this in a Session:
//
//	s := engine.Start(ctx, peerID, "places")
//	for st := range s.Updates() {
//	    fmt.Printf("%s %d/%d\n", st.State, st.FilesProcessed, st.TotalFiles)
//	}
//	result, err := s.Wait()
//
// # Reconciliation
//
// Files are compared by content hash. When both sides changed, the newer
// modification time wins and an exact tie favors the remote copy. Deletions are
// never inferred from a missing file; only explicit delete actions remove files.
package sync
