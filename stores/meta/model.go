// Package meta describes the metadata kept about stored content: the physical blocks, the distinct
// file contents made of them, and the application visible files pointing at those contents.
package meta

import (
	"time"
)

// BlockPath is one physical block. Code is the sha256 of the block bytes and is unique.
type BlockPath struct {
	ID        int64     `json:"id"`
	Code      string    `json:"code"`
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	CreatedAt time.Time `json:"created_at"`
}

// FilePath is a distinct file content. Code is the sha256 of the whole payload and is unique.
type FilePath struct {
	ID       int64  `json:"id"`
	Code     string `json:"code"`
	Size     int64  `json:"size"`
	Mimetype string `json:"mimetype"`
}

// FileBlock places a block at position Order of a file content.
type FileBlock struct {
	FilePathID  int64 `json:"file_id_path"`
	BlockPathID int64 `json:"file_id_block"`
	Order       int   `json:"order"`
}

// File is the handle an application holds. Many files may share one FilePath.
type File struct {
	ID              int64     `json:"id"`
	FilePathID      int64     `json:"file_id"`
	Key             string    `json:"key"`
	ApplicationCode string    `json:"application_code"`
	CodeKey         string    `json:"code_key"`
	Filename        string    `json:"filename,omitempty"`
	Title           string    `json:"title,omitempty"`
	CreatedAt       time.Time `json:"created_at"`

	// derived from the FilePath
	Code     string `json:"code"`
	Size     int64  `json:"size"`
	Mimetype string `json:"mimetype"`
}

// BlockRef is a stored block as returned when saving blocks, in payload order.
type BlockRef struct {
	BlockPathID int64
	Code        string
	Size        int64
}

// Segment is a block to read back, in payload order.
type Segment struct {
	Path string
	Size int64
}

// LinkRequest creates a File, and the FilePath with its FileBlocks unless FilePathID refers to
// an existing content.
type LinkRequest struct {
	FilePathID int64
	Code       string
	Size       int64
	Mimetype   string
	Blocks     []BlockRef

	Key             string
	ApplicationCode string
	CodeKey         string
	Filename        string
	Title           string
}

// DeleteCandidates are the contents and blocks a deletion of files may collect.
type DeleteCandidates struct {
	FilePathCodes []string
	BlockCodes    []string
}

// DeleteResult lists what a deletion removed. The physical files of BlockPaths are not yet
// removed from disk.
type DeleteResult struct {
	Files      int
	FilePaths  []FilePath
	BlockPaths []BlockPath
}
