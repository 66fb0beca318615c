//go:build !unix && !windows

package terminal

func (w *pagingWriter) getWindowSize() {
	w.mode = pagingWriterNormal
}
