package archive

// RawEntry is one entry of the archive exactly as stored.
type RawEntry struct {
	Path  string
	Data  []byte
	IsDir bool
}

// RelevantEntry is a file entry that survived filtering. Path is non-empty,
// relative, and free of ".." segments and OS metadata.
type RelevantEntry struct {
	Path string
	Data []byte
}

// NormalizedEntry is a file ready to publish. RelativePath is never empty.
type NormalizedEntry struct {
	RelativePath    string
	Data            []byte
	ContentType     string
	ContentEncoding string
}

// TotalSize sums the payload bytes of entries.
func TotalSize(entries []NormalizedEntry) int64 {
	var n int64
	for _, e := range entries {
		n += int64(len(e.Data))
	}
	return n
}
