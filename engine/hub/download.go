package hub

import (
	"context"
	"errors"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/tencdm/tencdm/pkg/logger"
)

const maxParallelDownloads = 4

// repoFile is one file of a model repository; optional files may be absent.
type repoFile struct {
	name     string
	optional bool
}

var encoderFiles = []repoFile{
	{name: configFile},
	{name: weightsFile},
	{name: tokenizerFile, optional: true},
	{name: vocabFile, optional: true},
	{name: specialTokensFile, optional: true},
}

// Download caches every file an encoder adapter reads for id and returns the
// names now present, sorted. Missing optional files are skipped.
func (h *Hub) Download(ctx context.Context, id string) ([]string, error) {
	log := logger.FromContext(ctx)
	present := make([]bool, len(encoderFiles))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelDownloads)
	for i, f := range encoderFiles {
		g.Go(func() error {
			_, err := h.fetch(ctx, id, f.name)
			switch {
			case err == nil:
				present[i] = true
				return nil
			case f.optional && errors.Is(err, ErrNotFound):
				return nil
			default:
				return err
			}
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	var names []string
	for i, ok := range present {
		if ok {
			names = append(names, encoderFiles[i].name)
		}
	}
	sort.Strings(names)
	log.Debug("Model files cached", "model", id, "files", names)
	return names, nil
}
