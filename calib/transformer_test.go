package calib

import (
	"errors"
	"math"
	"testing"
)

func TestRadarToBEV_Concrete(t *testing.T) {
	tr := NewCoordinateTransformer(Params{
		Camera: DefaultCamera(),
		Radar:  RadarParams{Yaw: 0, XOffset: 3.5, YOffset: 0},
	})

	bev := tr.RadarToBEV(10, 2)
	if !pointsNear(bev, Point{X: 1.5, Y: 10}, epsilon) {
		t.Errorf("RadarToBEV(10, 2) = %v, want (1.5, 10)", bev)
	}

	radar := tr.BEVToRadar(1.5, 10)
	if !pointsNear(radar, Point{X: 10, Y: 2}, epsilon) {
		t.Errorf("BEVToRadar(1.5, 10) = %v, want (10, 2)", radar)
	}
}

func TestRadarBEV_RoundTrip(t *testing.T) {
	offsets := []Point{{0, 0}, {3.5, 0}, {-1.2, 2.4}, {10, -7}}
	radarPoints := []Point{{0, 0}, {10, 2}, {55.5, -12.25}, {-3, 4}, {150, 30}}

	for i := 0; i <= 16; i++ {
		yaw := -math.Pi + float64(i)*math.Pi/8
		for _, off := range offsets {
			tr := NewCoordinateTransformer(Params{
				Camera: DefaultCamera(),
				Radar:  RadarParams{Yaw: yaw, XOffset: off.X, YOffset: off.Y},
			})
			for _, p := range radarPoints {
				bev := tr.RadarToBEV(p.X, p.Y)
				back := tr.BEVToRadar(bev.X, bev.Y)
				if !pointsNear(back, p, epsilon) {
					t.Errorf("yaw=%.3f offset=%v: round trip of %v = %v", yaw, off, p, back)
				}
				if h, ok := tr.RadarBEVHomography().Apply(p); !ok || !pointsNear(h, bev, epsilon) {
					t.Errorf("yaw=%.3f offset=%v: homography(%v) = %v, want %v", yaw, off, p, h, bev)
				}
			}
		}
	}
}

func TestImageBEV_RoundTrip(t *testing.T) {
	for _, pitch := range []float64{0, 0.05, 0.2, -0.02} {
		for _, fo := range []float64{0, 1.8} {
			cam := DefaultCamera()
			cam.Pitch = pitch
			cam.ForwardOffset = fo
			tr := NewCoordinateTransformer(Params{Camera: cam})

			for _, y := range []float64{5, 12.5, 30, 80} {
				for _, x := range []float64{-10, -2, 0, 3.3, 10} {
					px, ok := tr.BEVToImage(x, y)
					if !ok {
						t.Fatalf("pitch=%v: BEVToImage(%v, %v) undefined", pitch, x, y)
					}
					bev, ok := tr.ImageToBEV(px.X, px.Y)
					if !ok {
						t.Fatalf("pitch=%v: ImageToBEV(%v) undefined", pitch, px)
					}
					if !pointsNear(bev, Point{X: x, Y: y}, 1e-6) {
						t.Errorf("pitch=%v fo=%v: round trip of (%v, %v) = %v", pitch, fo, x, y, bev)
					}
				}
			}
		}
	}
}

func TestImageToBEV_KnownValues(t *testing.T) {
	tr := NewCoordinateTransformer(DefaultParams())

	// 100px below the principal point at 1000px focal length is a 0.1 slope:
	// a 1.5m high camera meets the ground 15m ahead.
	bev, ok := tr.ImageToBEV(640, 580)
	if !ok || !pointsNear(bev, Point{X: 0, Y: 15}, epsilon) {
		t.Errorf("ImageToBEV(640, 580) = %v, %v, want (0, 15)", bev, ok)
	}

	px, ok := tr.BEVToImage(0, 15)
	if !ok || !pointsNear(px, Point{X: 640, Y: 580}, epsilon) {
		t.Errorf("BEVToImage(0, 15) = %v, %v, want (640, 580)", px, ok)
	}
}

func TestImageToBEV_Undefined(t *testing.T) {
	tr := NewCoordinateTransformer(DefaultParams())

	tests := []struct {
		name string
		u, v float64
	}{
		{"on the horizon", 640, 480},
		{"above the horizon", 300, 100},
		{"just above the horizon", 640, 480 - 1e-4},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if bev, ok := tr.ImageToBEV(tt.u, tt.v); ok {
				t.Errorf("ImageToBEV(%v, %v) = %v, want undefined", tt.u, tt.v, bev)
			}
		})
	}

	pitched := tr.WithPitch(0.1)
	horizon := pitched.Params().Camera.VanishingY()
	if _, ok := pitched.ImageToBEV(640, horizon-1); ok {
		t.Error("ImageToBEV() above the pitched horizon should be undefined")
	}
	if _, ok := pitched.ImageToBEV(640, horizon+1); !ok {
		t.Error("ImageToBEV() below the pitched horizon should be defined")
	}
}

func TestBEVToImage_BehindCamera(t *testing.T) {
	cam := DefaultCamera()
	cam.ForwardOffset = 2
	tr := NewCoordinateTransformer(Params{Camera: cam})

	for _, y := range []float64{-5, 0, 2} {
		if px, ok := tr.BEVToImage(0, y); ok {
			t.Errorf("BEVToImage(0, %v) = %v, want undefined", y, px)
		}
	}
	if _, ok := tr.BEVToImage(0, 2.5); !ok {
		t.Error("BEVToImage() just ahead of the camera should be defined")
	}
}

func TestImageToRadar_InvertsRadarToImage(t *testing.T) {
	cam := DefaultCamera()
	cam.Pitch = 0.04
	tr := NewCoordinateTransformer(Params{
		Camera: cam,
		Radar:  RadarParams{Yaw: 0.05, XOffset: 0.5, YOffset: 1},
	})

	px, ok := tr.RadarToImage(30, -2)
	if !ok {
		t.Fatal("RadarToImage() undefined")
	}
	radar, ok := tr.ImageToRadar(px.X, px.Y)
	if !ok || !pointsNear(radar, Point{X: 30, Y: -2}, 1e-6) {
		t.Errorf("ImageToRadar() = %v, %v, want (30, -2)", radar, ok)
	}
}

func TestWithPitch_LeavesOriginalUntouched(t *testing.T) {
	tr := NewCoordinateTransformer(DefaultParams())
	pitched := tr.WithPitch(0.3)

	if tr.Params().Camera.Pitch != 0 {
		t.Errorf("original pitch = %v, want 0", tr.Params().Camera.Pitch)
	}
	if pitched.Params().Camera.Pitch != 0.3 {
		t.Errorf("copy pitch = %v, want 0.3", pitched.Params().Camera.Pitch)
	}
}

func TestCameraBEVHomography_MatchesProjection(t *testing.T) {
	cam := DefaultCamera()
	cam.Pitch = 0.05
	cam.ForwardOffset = 1
	tr := NewCoordinateTransformer(Params{Camera: cam})

	h, err := tr.CameraBEVHomography()
	if err != nil {
		t.Fatalf("CameraBEVHomography() error = %v", err)
	}

	for _, want := range []Point{{3, 25}, {-7, 9}, {0, 60}, {12, 33}} {
		px, ok := tr.BEVToImage(want.X, want.Y)
		if !ok {
			t.Fatalf("BEVToImage(%v) undefined", want)
		}
		got, ok := h.Apply(px)
		if !ok || !pointsNear(got, want, 1e-6) {
			t.Errorf("H(%v) = %v, want %v", px, got, want)
		}
	}
}

func TestCameraBEVHomography_NoVisibleGround(t *testing.T) {
	cam := DefaultCamera()
	cam.ForwardOffset = 100 // every sample lies behind the camera
	tr := NewCoordinateTransformer(Params{Camera: cam})

	if _, err := tr.CameraBEVHomography(); !errors.Is(err, ErrInsufficientData) {
		t.Errorf("CameraBEVHomography() error = %v, want ErrInsufficientData", err)
	}
}
