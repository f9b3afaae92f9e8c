package tools

import (
	"context"
	"fmt"

	"allinone/internal/engine"
	"allinone/internal/engine/img"
	"allinone/internal/engine/pdf"
	"allinone/internal/engine/video"
	"allinone/internal/staged"
	"allinone/pkg/sniff"
)

var imageKinds = []sniff.Kind{sniff.KindJPEG, sniff.KindPNG, sniff.KindGIF, sniff.KindBMP, sniff.KindTIFF, sniff.KindWEBP}

func stages(analyzing, processing, optimizing string) []staged.Stage {
	s := staged.DefaultStages()
	s[0].Message, s[1].Message, s[2].Message = analyzing, processing, optimizing
	return s
}

// Default returns the registry of every built-in tool.
func Default() *Registry {
	r, err := NewRegistry(
		pdfCompress(), pdfRotate(), pdfSplit(), pdfWatermark(), pdfMerge(), pdfToImage(),
		imageConvert(), imageWatermark(), imageStripMetadata(),
		videoToGIF(),
	)
	if err != nil {
		panic(err)
	}
	return r
}

func single(job Job) engine.Input {
	return job.Files[0]
}

func pdfCompress() *Tool {
	return &Tool{
		ID: "pdf-compress", Title: "Compress PDF", Category: "pdf", Domain: engine.DomainPDF,
		Accept: []sniff.Kind{sniff.KindPDF},
		Stages: stages("Analyzing PDF structure...", "Compressing streams...", "Optimizing output..."),
		Output: "{name}_compressed",
		Process: func(ctx context.Context, job Job) (*engine.Blob, error) {
			blob, stats, err := pdf.Compress(ctx, single(job))
			if err != nil {
				return nil, err
			}
			job.Env.Log.Info().
				Int64("original", stats.OriginalSize).
				Int64("compressed", stats.CompressedSize).
				Float64("saved_pct", stats.Saved()).
				Msg("pdf compressed")
			return blob, nil
		},
	}
}

func pdfRotate() *Tool {
	return &Tool{
		ID: "pdf-rotate", Title: "Rotate PDF", Category: "pdf", Domain: engine.DomainPDF,
		Accept: []sniff.Kind{sniff.KindPDF},
		Stages: stages("Reading pages...", "Rotating pages...", "Writing PDF..."),
		Output: "{name}_rotated",
		Options: []Option{
			{Key: "angle", Default: "90", Help: "multiple of 90, negative turns counter-clockwise"},
			{Key: "pages", Help: "page selection such as 1-3,5; empty for all"},
		},
		Process: func(ctx context.Context, job Job) (*engine.Blob, error) {
			r := job.Params.reader(engine.DomainPDF)
			opts := pdf.RotateOptions{Angle: r.Int("angle", 90), Pages: r.String("pages", "")}
			if err := r.Err(); err != nil {
				return nil, err
			}
			return pdf.Rotate(ctx, single(job), opts)
		},
	}
}

func pdfSplit() *Tool {
	return &Tool{
		ID: "pdf-split", Title: "Split PDF", Category: "pdf", Domain: engine.DomainPDF,
		Accept: []sniff.Kind{sniff.KindPDF},
		Stages: stages("Reading pages...", "Extracting ranges...", "Packaging files..."),
		Output: "{name}_split",
		Options: []Option{
			{Key: "ranges", Help: "ranges such as 1-3,4-"},
			{Key: "every-page", Default: "false", Help: "one file per page"},
		},
		Process: func(ctx context.Context, job Job) (*engine.Blob, error) {
			r := job.Params.reader(engine.DomainPDF)
			opts := pdf.SplitOptions{Ranges: r.String("ranges", ""), EveryPage: r.Bool("every-page", false)}
			if err := r.Err(); err != nil {
				return nil, err
			}
			return pdf.Split(ctx, single(job), opts, job.Progress)
		},
	}
}

func pdfWatermark() *Tool {
	def := pdf.DefaultWatermark()
	return &Tool{
		ID: "pdf-watermark", Title: "Watermark PDF", Category: "pdf", Domain: engine.DomainPDF,
		Accept: []sniff.Kind{sniff.KindPDF},
		Stages: stages("Reading pages...", "Stamping watermark...", "Writing PDF..."),
		Output: "{name}_watermarked",
		Options: []Option{
			{Key: "text", Help: "watermark text (required)"},
			{Key: "size", Default: fmt.Sprint(def.FontSize)},
			{Key: "opacity", Default: fmt.Sprint(def.Opacity)},
			{Key: "rotation", Default: fmt.Sprint(def.Rotation)},
			{Key: "color", Default: def.Color},
			{Key: "pages"},
		},
		Process: func(ctx context.Context, job Job) (*engine.Blob, error) {
			r := job.Params.reader(engine.DomainPDF)
			opts := pdf.WatermarkOptions{
				Text:     r.String("text", ""),
				FontSize: r.Int("size", def.FontSize),
				Opacity:  r.Float("opacity", def.Opacity),
				Rotation: r.Int("rotation", def.Rotation),
				Color:    r.String("color", def.Color),
				Pages:    r.String("pages", ""),
			}
			if err := r.Err(); err != nil {
				return nil, err
			}
			return pdf.Watermark(ctx, single(job), opts)
		},
	}
}

func pdfMerge() *Tool {
	return &Tool{
		ID: "pdf-merge", Title: "Merge PDFs", Category: "pdf", Domain: engine.DomainPDF,
		Multiple: true,
		Accept:   []sniff.Kind{sniff.KindPDF},
		Stages:   stages("Checking documents...", "Merging pages...", "Writing PDF..."),
		Output:   "merged",
		Process: func(ctx context.Context, job Job) (*engine.Blob, error) {
			return pdf.Merge(ctx, job.Files, job.Progress)
		},
	}
}

func pdfToImage() *Tool {
	def := pdf.DefaultImageOptions()
	return &Tool{
		ID: "pdf-to-image", Title: "PDF to images", Category: "pdf", Domain: engine.DomainPDF,
		Accept: []sniff.Kind{sniff.KindPDF},
		Stages: stages("Reading pages...", "Rendering pages...", "Packaging images..."),
		Output: "{name}_pages",
		Options: []Option{
			{Key: "format", Default: def.Format, Help: "png or jpeg"},
			{Key: "dpi", Default: fmt.Sprint(def.DPI)},
			{Key: "quality", Default: fmt.Sprint(def.Quality)},
			{Key: "pages"},
		},
		Process: func(ctx context.Context, job Job) (*engine.Blob, error) {
			r := job.Params.reader(engine.DomainPDF)
			opts := pdf.ImageOptions{
				Format:  r.String("format", def.Format),
				DPI:     r.Float("dpi", def.DPI),
				Quality: r.Int("quality", def.Quality),
				Pages:   r.String("pages", ""),
			}
			if opts.Format == "jpg" {
				opts.Format = "jpeg"
			}
			if err := r.Err(); err != nil {
				return nil, err
			}
			return pdf.ToImage(ctx, single(job), opts, job.Progress)
		},
	}
}

func imageConvert() *Tool {
	def := img.DefaultConvert()
	return &Tool{
		ID: "image-convert", Title: "Convert image", Category: "image", Domain: engine.DomainImage,
		Accept: imageKinds,
		Stages: stages("Decoding image...", "Converting...", "Encoding output..."),
		Output: "{name}",
		Options: []Option{
			{Key: "format", Default: def.Format, Help: "png, jpeg, gif, bmp or tiff"},
			{Key: "quality", Default: fmt.Sprint(def.Quality)},
			{Key: "background", Default: def.Background},
		},
		Process: func(ctx context.Context, job Job) (*engine.Blob, error) {
			r := job.Params.reader(engine.DomainImage)
			opts := img.ConvertOptions{
				Format:     r.String("format", def.Format),
				Quality:    r.Int("quality", def.Quality),
				Background: r.String("background", def.Background),
			}
			if err := r.Err(); err != nil {
				return nil, err
			}
			return img.Convert(ctx, single(job), opts)
		},
	}
}

func imageWatermark() *Tool {
	def := img.DefaultWatermark()
	return &Tool{
		ID: "image-watermark", Title: "Watermark image", Category: "image", Domain: engine.DomainImage,
		Accept: imageKinds,
		Stages: stages("Decoding image...", "Drawing watermark...", "Encoding output..."),
		Output: "{name}_watermarked",
		Options: []Option{
			{Key: "text", Help: "watermark text (required)"},
			{Key: "position", Default: string(def.Position)},
			{Key: "opacity", Default: fmt.Sprint(def.Opacity)},
			{Key: "scale", Default: "0", Help: "0 fits the text to the image"},
			{Key: "color", Default: def.Color},
		},
		Process: func(ctx context.Context, job Job) (*engine.Blob, error) {
			r := job.Params.reader(engine.DomainImage)
			opts := img.WatermarkOptions{
				Text:     r.String("text", ""),
				Position: img.Position(r.String("position", string(def.Position))),
				Opacity:  r.Float("opacity", def.Opacity),
				Scale:    r.Float("scale", 0),
				Color:    r.String("color", def.Color),
				Quality:  def.Quality,
			}
			if err := r.Err(); err != nil {
				return nil, err
			}
			return img.Watermark(ctx, single(job), opts)
		},
	}
}

func imageStripMetadata() *Tool {
	return &Tool{
		ID: "image-strip-metadata", Title: "Remove image metadata", Category: "image", Domain: engine.DomainImage,
		Accept: []sniff.Kind{sniff.KindJPEG, sniff.KindPNG},
		Stages: stages("Scanning metadata...", "Removing metadata...", "Verifying output..."),
		Output: "{name}_clean",
		Options: []Option{
			{Key: "preserve-icc", Default: "false", Help: "keep the embedded color profile"},
		},
		Process: func(ctx context.Context, job Job) (*engine.Blob, error) {
			r := job.Params.reader(engine.DomainImage)
			opts := img.StripOptions{PreserveICC: r.Bool("preserve-icc", false)}
			if err := r.Err(); err != nil {
				return nil, err
			}
			blob, stats, err := img.StripMetadata(ctx, single(job), opts)
			if err != nil {
				return nil, err
			}
			job.Env.Log.Info().Int("removed", stats.Removed).Int64("bytes_saved", stats.BytesSaved).Msg("metadata stripped")
			return blob, nil
		},
	}
}

func videoToGIF() *Tool {
	def := video.DefaultGIF()
	return &Tool{
		ID: "video-to-gif", Title: "Video to GIF", Category: "video", Domain: engine.DomainVideo,
		Accept: []sniff.Kind{sniff.KindMP4, sniff.KindWEBM},
		Stages: stages("Loading video engine...", "Converting frames...", "Building palette..."),
		Output: "{name}",
		Options: []Option{
			{Key: "fps", Default: fmt.Sprint(def.FPS)},
			{Key: "width", Default: fmt.Sprint(def.Width)},
			{Key: "start", Default: "0s"},
			{Key: "duration", Default: def.Duration.String()},
		},
		Process: func(ctx context.Context, job Job) (*engine.Blob, error) {
			if job.Env.Video == nil {
				return nil, engine.NewError(engine.DomainVideo, video.CodeFFmpegLoadFailed, fmt.Errorf("no video runtime configured"))
			}
			r := job.Params.reader(engine.DomainVideo)
			opts := video.GIFOptions{
				FPS:      r.Int("fps", def.FPS),
				Width:    r.Int("width", def.Width),
				Start:    r.Duration("start", 0),
				Duration: r.Duration("duration", def.Duration),
			}
			if err := r.Err(); err != nil {
				return nil, err
			}
			return video.ToGIF(ctx, job.Env.Video, single(job), opts, job.Progress)
		},
	}
}
