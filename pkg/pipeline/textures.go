package pipeline

import (
	"context"
	"fmt"

	"github.com/qmuntal/gltf"
	"golang.org/x/sync/errgroup"

	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/document"
	"github.com/Hwang-Sangjin/3D-Optimizer-Next/pkg/texture"
)

// TexturePass re-encodes embedded image payloads through a Transcoder.
// Images are recompressed concurrently, then committed serially so the
// document is only mutated on the calling goroutine. An image that fails
// to convert, resolves to an external file, or grows under the target
// format keeps its original payload; only a pass where every candidate
// fails is reported as failed.
type TexturePass struct {
	Transcoder texture.Transcoder
	Options    texture.Options
	// Workers bounds concurrent recompressions. Zero means 4.
	Workers int
}

func (TexturePass) Name() string { return "textures" }

func (p TexturePass) Apply(ctx context.Context, doc *gltf.Document) Result {
	if p.Transcoder == nil || !p.Transcoder.Available() {
		return Skipped("no transcoder available")
	}
	if len(doc.Images) == 0 {
		return Skipped("no images")
	}
	workers := p.Workers
	if workers <= 0 {
		workers = 4
	}

	type outcome struct {
		res *texture.Result
		err error
	}
	originals := make([][]byte, len(doc.Images))
	outcomes := make([]outcome, len(doc.Images))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	attempted := 0
	for i := range doc.Images {
		data, err := document.ImageBytes(doc, doc.Images[i])
		if err != nil {
			outcomes[i].err = err
			continue
		}
		originals[i] = data
		attempted++
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := p.Transcoder.Recompress(data, p.Options)
			outcomes[i] = outcome{res: res, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return Failed(err)
	}
	if attempted == 0 {
		return Skipped("no embedded images")
	}

	converted, kept, failed := 0, 0, 0
	var firstErr error
	for i := range doc.Images {
		o := outcomes[i]
		if o.err != nil {
			if originals[i] != nil {
				failed++
				if firstErr == nil {
					firstErr = o.err
				}
			}
			continue
		}
		if o.res == nil {
			continue
		}
		if len(o.res.Data) >= len(originals[i]) {
			kept++
			continue
		}
		document.SetImageBytes(doc, doc.Images[i], o.res.Data, o.res.MIME)
		converted++
	}

	if failed == attempted {
		return Failed(firstErr)
	}
	if converted == 0 {
		return Skipped("no image shrank")
	}
	if err := document.SweepData(doc); err != nil {
		return Failed(fmt.Errorf("sweep replaced payloads: %w", err))
	}
	if kept+failed > 0 {
		return AppliedNote(fmt.Sprintf("%d of %d images kept original payload", kept+failed, attempted))
	}
	return Applied()
}
