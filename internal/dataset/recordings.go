package dataset

import (
	"io/fs"
	"path/filepath"
	"slices"
	"strings"

	"github.com/tphakala/clipscan/internal/clip"
	"github.com/tphakala/clipscan/internal/errors"
)

// Prober describes an audio file as a Recording. *myaudio.FileDecoder
// implements it.
type Prober interface {
	Recording(path string) (clip.Recording, error)
}

var audioExtensions = []string{".wav", ".flac"}

// ExpandPaths replaces every directory in paths with the audio files below
// it, in lexical order. Plain files are kept as given.
func ExpandPaths(paths ...string) ([]string, error) {
	var out []string
	for _, p := range paths {
		var found []string
		err := filepath.WalkDir(p, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				return nil
			}
			if path == p || slices.Contains(audioExtensions, strings.ToLower(filepath.Ext(path))) {
				found = append(found, path)
			}
			return nil
		})
		if err != nil {
			return nil, errors.New(err).
				Component("dataset").
				Category(errors.CategoryFileIO).
				Context("operation", "expand_paths").
				FileContext(p).
				Build()
		}
		slices.Sort(found)
		out = append(out, found...)
	}
	return out, nil
}

// RecordingsFromFiles probes every path. A file that cannot be probed is left
// out and returned as a clip.DecodeFailure whose identity names only the path,
// in the order the paths were given.
func RecordingsFromFiles(prober Prober, paths ...string) ([]clip.Recording, []*clip.Failure) {
	recordings := make([]clip.Recording, 0, len(paths))
	var unreadable []*clip.Failure
	for _, p := range paths {
		rec, err := prober.Recording(p)
		if err != nil {
			unreadable = append(unreadable, clip.NewFailure(clip.Identity{Recording: p}, clip.DecodeFailure, err))
			continue
		}
		recordings = append(recordings, rec)
	}
	return recordings, unreadable
}
