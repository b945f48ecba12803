package editor

import (
	"github.com/gabriel-vasile/mimetype"
)

// isTextFile sniffs the head of path. JSON, XML, HTML, CSV and friends
// descend from text/plain in the detection tree, so they all count.
func isTextFile(path string) (bool, string, error) {
	mtype, err := mimetype.DetectFile(path)
	if err != nil {
		return false, "", err
	}
	for m := mtype; m != nil; m = m.Parent() {
		if m.Is("text/plain") {
			return true, mtype.String(), nil
		}
	}
	return false, mtype.String(), nil
}
