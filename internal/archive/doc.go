// Package archive turns an uploaded zip buffer into the flat list of files
// that get published.
//
// Processing happens in three stages, each a pure function over the output
// of the previous one:
//   - [Read]: decode every entry of the zip, directories included
//   - [Filter]: drop directories, OS metadata and unsafe paths
//   - [Normalize]: strip a single wrapping folder shared by every entry and
//     attach the content type each object is stored with
//
// Extraction enforces size limits (per file, total, entry count) so a
// small upload cannot expand into an unbounded amount of memory.
package archive
