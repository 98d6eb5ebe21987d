package frames

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"regexp"
	"sort"
	"strconv"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
	xdraw "golang.org/x/image/draw"
)

// Tensor names of an ultralytics YOLO export.
const (
	onnxInputName  = "images"
	onnxOutputName = "output0"

	// nmsIoU is the overlap above which a weaker box of the same class is
	// suppressed, the ultralytics predict default.
	nmsIoU = 0.7
)

// letterboxFill is the padding colour ultralytics letterboxes with.
var letterboxFill = color.RGBA{R: 114, G: 114, B: 114, A: 255}

// ONNXDetector runs a YOLO model exported to ONNX in-process.
//
// The session and its tensors are created once and reused; Detect
// serializes access to them.
type ONNXDetector struct {
	classes   []string
	threshold float64
	size      int
	anchors   int

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	output  *ort.Tensor[float32]
}

// NewONNXDetector loads the model named by s.ModelPath.
func NewONNXDetector(s *Settings) (*ONNXDetector, error) {
	if s.ONNXRuntimeLib != "" {
		ort.SetSharedLibraryPath(s.ONNXRuntimeLib)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("failed to initialize onnxruntime: %w", err)
		}
	}

	classes := s.ModelClasses
	if len(classes) == 0 {
		var err error
		if classes, err = modelClassNames(s.ModelPath); err != nil {
			return nil, err
		}
	}

	d := &ONNXDetector{
		classes:   classes,
		threshold: s.ConfidenceThreshold,
		size:      s.InputSize,
		anchors:   anchorCount(s.InputSize),
	}

	var err error
	d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 3, int64(d.size), int64(d.size)))
	if err != nil {
		return nil, fmt.Errorf("failed to allocate input tensor: %w", err)
	}
	d.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, int64(4+len(classes)), int64(d.anchors)))
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to allocate output tensor: %w", err)
	}

	opts, err := sessionOptions(s.UseCUDA)
	if err != nil {
		_ = d.Close()
		return nil, err
	}
	defer func() { _ = opts.Destroy() }()

	d.session, err = ort.NewAdvancedSession(s.ModelPath,
		[]string{onnxInputName}, []string{onnxOutputName},
		[]ort.Value{d.input}, []ort.Value{d.output}, opts)
	if err != nil {
		_ = d.Close()
		return nil, fmt.Errorf("failed to load model %s: %w", s.ModelPath, err)
	}
	return d, nil
}

func sessionOptions(useCUDA bool) (*ort.SessionOptions, error) {
	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("failed to create session options: %w", err)
	}
	if !useCUDA {
		return opts, nil
	}

	cuda, err := ort.NewCUDAProviderOptions()
	if err != nil {
		_ = opts.Destroy()
		return nil, fmt.Errorf("failed to create CUDA provider options: %w", err)
	}
	defer func() { _ = cuda.Destroy() }()
	if err := opts.AppendExecutionProviderCUDA(cuda); err != nil {
		_ = opts.Destroy()
		return nil, fmt.Errorf("failed to enable CUDA execution provider: %w", err)
	}
	return opts, nil
}

// Detect runs the model on frame and returns the missing-PPE detections.
func (d *ONNXDetector) Detect(ctx context.Context, frame []byte, _ string) ([]Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	img, _, err := image.Decode(bytes.NewReader(frame))
	if err != nil {
		return nil, fmt.Errorf("cannot decode frame: %w", err)
	}

	d.mu.Lock()
	lb := letterbox(img, d.size, d.input.GetData())
	if err := d.session.Run(); err != nil {
		d.mu.Unlock()
		return nil, fmt.Errorf("inference failed: %w", err)
	}
	boxes := decodeOutput(d.output.GetData(), d.classes, d.anchors, d.threshold, lb)
	d.mu.Unlock()

	return toDetections(nms(boxes, nmsIoU), d.threshold), nil
}

// Close releases the session and tensors.
func (d *ONNXDetector) Close() error {
	if d.session != nil {
		_ = d.session.Destroy()
	}
	if d.input != nil {
		_ = d.input.Destroy()
	}
	if d.output != nil {
		_ = d.output.Destroy()
	}
	return nil
}

// anchorCount is the number of predictions a YOLOv8-style head emits for
// a square input: one per cell of the stride 8, 16 and 32 grids.
func anchorCount(size int) int {
	n := 0
	for _, stride := range []int{8, 16, 32} {
		g := size / stride
		n += g * g
	}
	return n
}

// letterboxInfo maps model coordinates back to the source image.
type letterboxInfo struct {
	scale      float64
	padX, padY float64
	width      int
	height     int
}

// letterbox scales img to fit a size×size square keeping its aspect
// ratio, pads it with grey and writes it into dst as planar RGB in [0,1].
func letterbox(img image.Image, size int, dst []float32) letterboxInfo {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	scale := min(float64(size)/float64(w), float64(size)/float64(h))
	nw, nh := int(float64(w)*scale+0.5), int(float64(h)*scale+0.5)
	padX, padY := (size-nw)/2, (size-nh)/2

	canvas := image.NewRGBA(image.Rect(0, 0, size, size))
	draw.Draw(canvas, canvas.Bounds(), &image.Uniform{C: letterboxFill}, image.Point{}, draw.Src)
	xdraw.BiLinear.Scale(canvas, image.Rect(padX, padY, padX+nw, padY+nh), img, b, xdraw.Src, nil)

	plane := size * size
	for y := 0; y < size; y++ {
		row := canvas.Pix[y*canvas.Stride:]
		for x := 0; x < size; x++ {
			i := y*size + x
			px := row[x*4:]
			dst[i] = float32(px[0]) / 255
			dst[plane+i] = float32(px[1]) / 255
			dst[2*plane+i] = float32(px[2]) / 255
		}
	}

	return letterboxInfo{scale: scale, padX: float64(padX), padY: float64(padY), width: w, height: h}
}

// decodeOutput turns a [1, 4+classes, anchors] prediction tensor into
// boxes in source-image pixels. Each anchor contributes its best class
// when that score reaches threshold.
func decodeOutput(data []float32, classes []string, anchors int, threshold float64, lb letterboxInfo) []Box {
	var boxes []Box
	for a := 0; a < anchors; a++ {
		best, score := -1, float32(0)
		for c := range classes {
			if v := data[(4+c)*anchors+a]; v > score {
				best, score = c, v
			}
		}
		if best < 0 || float64(score) < threshold {
			continue
		}

		cx, cy := float64(data[a]), float64(data[anchors+a])
		bw, bh := float64(data[2*anchors+a]), float64(data[3*anchors+a])
		boxes = append(boxes, Box{
			Class:      classes[best],
			Confidence: float64(score),
			XYXY: [4]float64{
				clamp((cx-bw/2-lb.padX)/lb.scale, float64(lb.width)),
				clamp((cy-bh/2-lb.padY)/lb.scale, float64(lb.height)),
				clamp((cx+bw/2-lb.padX)/lb.scale, float64(lb.width)),
				clamp((cy+bh/2-lb.padY)/lb.scale, float64(lb.height)),
			},
		})
	}
	return boxes
}

func clamp(v, upper float64) float64 {
	return max(0, min(v, upper))
}

// nms keeps the strongest box of each overlapping same-class group,
// ordered by confidence.
func nms(boxes []Box, iouThreshold float64) []Box {
	sort.SliceStable(boxes, func(i, j int) bool { return boxes[i].Confidence > boxes[j].Confidence })

	kept := make([]Box, 0, len(boxes))
	for _, b := range boxes {
		suppressed := false
		for _, k := range kept {
			if k.Class == b.Class && iou(k.XYXY, b.XYXY) > iouThreshold {
				suppressed = true
				break
			}
		}
		if !suppressed {
			kept = append(kept, b)
		}
	}
	return kept
}

func iou(a, b [4]float64) float64 {
	ix := max(0, min(a[2], b[2])-max(a[0], b[0]))
	iy := max(0, min(a[3], b[3])-max(a[1], b[1]))
	inter := ix * iy
	union := (a[2]-a[0])*(a[3]-a[1]) + (b[2]-b[0])*(b[3]-b[1]) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// modelClassNames reads the "names" entry ultralytics writes into the
// model metadata.
func modelClassNames(path string) ([]string, error) {
	meta, err := ort.GetModelMetadata(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read metadata of %s: %w", path, err)
	}
	defer func() { _ = meta.Destroy() }()

	raw, ok, err := meta.LookupCustomMetadataMap("names")
	if err != nil {
		return nil, fmt.Errorf("failed to read class names of %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%s has no class names in its metadata; set %s", path, KeyModelClasses)
	}
	return parseClassNames(raw)
}

var classNameEntry = regexp.MustCompile(`(\d+)\s*:\s*(?:'((?:[^'\\]|\\.)*)'|"((?:[^"\\]|\\.)*)")`)

// parseClassNames parses a Python dict literal such as
// "{0: 'person', 1: 'no-hardhat'}" into a slice indexed by class ID.
func parseClassNames(raw string) ([]string, error) {
	matches := classNameEntry.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil, fmt.Errorf("cannot parse class names %q", raw)
	}

	names := make([]string, len(matches))
	for _, m := range matches {
		id, err := strconv.Atoi(m[1])
		if err != nil || id < 0 || id >= len(names) {
			return nil, fmt.Errorf("class names %q are not numbered 0..%d", raw, len(names)-1)
		}
		if names[id] != "" {
			return nil, fmt.Errorf("class %d is named twice in %q", id, raw)
		}
		names[id] = m[2] + m[3]
	}
	return names, nil
}
