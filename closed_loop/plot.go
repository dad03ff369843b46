package main

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"

	tuning "autopilot-gain-tuner/closed_loop/gain_tuning"
)

// SaveStepPlot renders both loop responses side by side with the command
// and ±2% settling band. replay is drawn on the X panel when non-empty.
func SaveStepPlot(path string, ev tuning.Evaluation, replay tuning.StepResponse) error {
	if ev.ResponseX.Len() == 0 || ev.ResponseY.Len() == 0 {
		return fmt.Errorf("plot: evaluation carries no responses")
	}

	px, err := stepPlot("X-Position", ev.ResponseX, tuning.PositionCommand)
	if err != nil {
		return err
	}
	if replay.Len() > 0 {
		line, err := plotter.NewLine(toXYs(replay))
		if err != nil {
			return err
		}
		line.LineStyle.Color = plotutil.Color(2)
		line.LineStyle.Dashes = []vg.Length{vg.Points(6), vg.Points(3)}
		px.Add(line)
		px.Legend.Add("sampled PID", line)
	}
	py, err := stepPlot("Y-Position", ev.ResponseY, tuning.CascadeCommand)
	if err != nil {
		return err
	}

	return savePlotsPNG([][]*plot.Plot{{px, py}}, 12, 5, path)
}

func stepPlot(title string, r tuning.StepResponse, command float64) (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = title + " step response"
	p.X.Label.Text = "time (s)"
	p.Y.Label.Text = "position (ft)"
	p.Add(plotter.NewGrid())

	line, err := plotter.NewLine(toXYs(r))
	if err != nil {
		return nil, err
	}
	line.LineStyle.Width = vg.Points(2)
	line.LineStyle.Color = plotutil.Color(0)
	p.Add(line)
	p.Legend.Add("continuous", line)

	for _, level := range []float64{1 - 0.02, 1, 1 + 0.02} {
		y := level * command
		f := plotter.NewFunction(func(float64) float64 { return y })
		f.LineStyle.Color = plotutil.Color(1)
		if level != 1 {
			f.LineStyle.Dashes = []vg.Length{vg.Points(2), vg.Points(2)}
		}
		p.Add(f)
	}
	return p, nil
}

func toXYs(r tuning.StepResponse) plotter.XYs {
	pts := make(plotter.XYs, r.Len())
	for i := range pts {
		pts[i].X = r.Time[i]
		pts[i].Y = r.Value[i]
	}
	return pts
}

func savePlotsPNG(plots [][]*plot.Plot, widthIn, heightIn float64, filename string) error {
	if dir := filepath.Dir(filename); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("cannot create directory: %w", err)
		}
	}

	c := vgimg.NewWith(
		vgimg.UseWH(vg.Length(widthIn)*vg.Inch, vg.Length(heightIn)*vg.Inch),
		vgimg.UseDPI(150),
	)
	dc := draw.New(c)
	tiles := draw.Tiles{
		Rows: len(plots), Cols: len(plots[0]),
		PadX: vg.Millimeter, PadY: vg.Millimeter,
		PadTop: vg.Points(4), PadBottom: vg.Points(4),
		PadLeft: vg.Points(4), PadRight: vg.Points(4),
	}
	canvases := plot.Align(plots, tiles, dc)
	for j := range plots {
		for i, p := range plots[j] {
			p.Draw(canvases[j][i])
		}
	}

	f, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("cannot create png: %w", err)
	}
	defer f.Close()

	bw := bufio.NewWriter(f)
	if _, err := (vgimg.PngCanvas{Canvas: c}).WriteTo(bw); err != nil {
		return fmt.Errorf("cannot write png: %w", err)
	}
	return bw.Flush()
}
