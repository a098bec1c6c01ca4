// Command mandelbrot tabulates a mandelbrot set escape-time image as a
// sequence and times the serial reference against the distributed
// implementation, reproducing original_source/src/mandelbrot.cpp's
// three-run-minimum timing report and speedup line.
package main

import (
	"context"
	"flag"
	"time"

	"github.com/ananyakumar/bigseq"
	"github.com/ananyakumar/bigseq/exec"
	"github.com/ananyakumar/bigseq/internal/cluster"
	"github.com/ananyakumar/bigseq/serialseq"
	"github.com/grailbio/base/log"
	"github.com/grailbio/bigmachine"
	"github.com/grailbio/bigmachine/local"
)

var (
	width    = flag.Int("width", 1200, "image width in pixels")
	height   = flag.Int("height", 800, "image height in pixels")
	maxIters = flag.Int("max-iters", 256, "maximum escape-time iterations per pixel")
	procs    = flag.Int("procs", 4, "number of worker machines")
	runs     = flag.Int("runs", 3, "number of timed runs to take the minimum of")

	x0 = flag.Float64("x0", -2, "left edge of the complex-plane viewport")
	x1 = flag.Float64("x1", 1, "right edge of the complex-plane viewport")
	y0 = flag.Float64("y0", -1, "bottom edge of the complex-plane viewport")
	y1 = flag.Float64("y1", 1, "top edge of the complex-plane viewport")
)

// mandel is ported directly from mandelbrot.cpp's mandel(): the
// escape-time count for one point in the complex plane.
func mandel(cRe, cIm float64, count int) int {
	zRe, zIm := cRe, cIm
	i := 0
	for ; i < count; i++ {
		if zRe*zRe+zIm*zIm > 4 {
			break
		}
		newRe := zRe*zRe - zIm*zIm
		newIm := 2 * zRe * zIm
		zRe = cRe + newRe
		zIm = cIm + newIm
	}
	return i
}

const mandelbrotGenerator = "mandelbrot-escape-time"

func main() {
	flag.Parse()
	log.AddFlags()
	ctx := context.Background()

	dx := (*x1 - *x0) / float64(*width)
	dy := (*y1 - *y0) / float64(*height)
	n := *width * *height

	bigseq.RegisterGenerator(mandelbrotGenerator, func(i int) int {
		row := i / *width
		col := i % *width
		x := *x0 + float64(col)*dx
		y := *y0 + float64(row)*dy
		return mandel(x, y, *maxIters)
	})

	minSerial := time.Duration(1<<63 - 1)
	for i := 0; i < *runs; i++ {
		start := time.Now()
		seq, err := serialseq.NewFromGenerator[int](mandelbrotGenerator, n)
		if err != nil {
			log.Fatal(err)
		}
		if d := time.Since(start); d < minSerial {
			minSerial = d
		}
		seq.Close(ctx)
	}
	log.Printf("[mandelbrot serial]:\t\t[%v]", minSerial)

	c, err := cluster.Init(ctx, local.System{}, *procs, exec.WorkerParams(),
		func(ctx context.Context, m *bigmachine.Machine) (int, error) {
			var millis int
			err := m.Call(ctx, "Worker.Benchmark", struct{}{}, &millis)
			return millis, err
		})
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close(ctx)

	minParallel := time.Duration(1<<63 - 1)
	for i := 0; i < *runs; i++ {
		start := time.Now()
		seq, err := exec.NewFromGenerator[int](ctx, c, mandelbrotGenerator, n)
		if err != nil {
			log.Fatal(err)
		}
		if d := time.Since(start); d < minParallel {
			minParallel = d
		}
		seq.Close(ctx)
	}
	log.Printf("[mandelbrot parallel]:\t\t[%v]", minParallel)
	log.Printf("\t\t\t\t(%.2fx speedup)", float64(minSerial)/float64(minParallel))
}
