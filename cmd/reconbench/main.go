// Command reconbench drives a synthetic depth stream through a
// Volume and reports integration and extraction timings.
package main

import (
	"fmt"
	"math"
	"runtime"
	"time"

	"github.com/rigerlee/tsdfvolume/internal/config"
	"github.com/rigerlee/tsdfvolume/internal/geom"
	"github.com/rigerlee/tsdfvolume/internal/integrator"
	"github.com/rigerlee/tsdfvolume/internal/tsdfvolume"
)

func main() {
	fmt.Println("========================================")
	fmt.Println("reconbench - sparse TSDF reconstruction benchmark")
	fmt.Println("========================================")
	fmt.Println()

	cfg := config.FromEnv()
	fmt.Printf("Config: voxel_size=%.4f sdf_trunc=%.4f resolution=%d capacity=%d buckets=%d\n\n",
		cfg.VoxelSize, cfg.SDFTrunc, cfg.Resolution, cfg.Capacity, cfg.BucketCount)

	fmt.Println("Test 1: Sphere scene integration")
	fmt.Println("---------------------------------")
	benchmarkSphereIntegration(cfg)
	fmt.Println()

	fmt.Println("Test 2: Repeated integration convergence")
	fmt.Println("------------------------------------------")
	benchmarkConvergence(cfg)
	fmt.Println()

	fmt.Println("Test 3: Marching cubes extraction")
	fmt.Println("-----------------------------------")
	benchmarkExtraction(cfg)
	fmt.Println()

	fmt.Println("========================================")
	fmt.Println("reconbench complete")
	fmt.Println("========================================")
}

func identityExtrinsic() geom.Mat4 {
	var m geom.Mat4
	for i := 0; i < 4; i++ {
		m[i][i] = 1
	}
	return m
}

func sphereDepth(width, height int, intrinsic geom.Mat3, radius, centerZ float32) integrator.DepthFrame {
	k := integrator.FromMat3(intrinsic)
	d := make([]float32, width*height)
	for row := 0; row < height; row++ {
		for u := 0; u < width; u++ {
			rx := (float32(u) - k.Cx) / k.Fx
			ry := (float32(row) - k.Cy) / k.Fy
			a := rx*rx + ry*ry + 1
			b := -2 * centerZ
			c := centerZ*centerZ - radius*radius
			disc := b*b - 4*a*c
			if disc < 0 {
				continue
			}
			t := (-b - float32(math.Sqrt(float64(disc)))) / (2 * a)
			if t > 0 {
				d[row*width+u] = t
			}
		}
	}
	return integrator.DepthFrame{Width: width, Height: height, Depth: d}
}

func benchmarkSphereIntegration(cfg config.VolumeConfig) {
	v, err := tsdfvolume.New(cfg)
	if err != nil {
		fmt.Printf("✗ failed to construct volume: %v\n", err)
		return
	}

	width, height := 256, 256
	intrinsic := geom.Mat3{
		{300, 0, float32(width) / 2},
		{0, 300, float32(height) / 2},
		{0, 0, 1},
	}
	depth := sphereDepth(width, height, intrinsic, 0.2, 0.5)

	start := time.Now()
	warnings, err := v.Integrate(depth, intrinsic, identityExtrinsic())
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("✗ integrate failed: %v\n", err)
		return
	}

	stats := v.Stats()
	fmt.Printf("Integrated 1 frame (%dx%d) in %v\n", width, height, elapsed)
	fmt.Printf("Active blocks: %d / capacity %d\n", stats.Active, stats.Pool.Capacity)
	if warnings != nil && warnings.HasErrors() {
		fmt.Printf("Warnings: %d (highest severity %s)\n", len(warnings.Errors()), warnings.HighestSeverity())
	}
	fmt.Println("✓ sphere integration completed")
}

func benchmarkConvergence(cfg config.VolumeConfig) {
	v, err := tsdfvolume.New(cfg)
	if err != nil {
		fmt.Printf("✗ failed to construct volume: %v\n", err)
		return
	}

	width, height := 64, 64
	intrinsic := geom.Mat3{
		{150, 0, float32(width) / 2},
		{0, 150, float32(height) / 2},
		{0, 0, 1},
	}
	depth := integrator.DepthFrame{Width: width, Height: height, Depth: make([]float32, width*height)}
	for i := range depth.Depth {
		depth.Depth[i] = 1.0
	}

	const frames = 255
	start := time.Now()
	for i := 0; i < frames; i++ {
		if _, err := v.Integrate(depth, intrinsic, identityExtrinsic()); err != nil {
			fmt.Printf("✗ integrate %d failed: %v\n", i, err)
			return
		}
	}
	elapsed := time.Since(start)

	fmt.Printf("Integrated %d identical frames in %v (%.2f ms/frame)\n",
		frames, elapsed, float64(elapsed.Milliseconds())/float64(frames))
	fmt.Println("✓ convergence benchmark completed")
}

func benchmarkExtraction(cfg config.VolumeConfig) {
	v, err := tsdfvolume.New(cfg)
	if err != nil {
		fmt.Printf("✗ failed to construct volume: %v\n", err)
		return
	}

	width, height := 256, 256
	intrinsic := geom.Mat3{
		{300, 0, float32(width) / 2},
		{0, 300, float32(height) / 2},
		{0, 0, 1},
	}
	depth := sphereDepth(width, height, intrinsic, 0.2, 0.5)
	if _, err := v.Integrate(depth, intrinsic, identityExtrinsic()); err != nil {
		fmt.Printf("✗ integrate failed: %v\n", err)
		return
	}

	var memBefore, memAfter runtime.MemStats
	runtime.GC()
	runtime.ReadMemStats(&memBefore)

	start := time.Now()
	mesh, err := v.MarchingCubes()
	elapsed := time.Since(start)
	if err != nil {
		fmt.Printf("✗ marching cubes failed: %v\n", err)
		return
	}

	runtime.ReadMemStats(&memAfter)

	fmt.Printf("Extracted mesh in %v: %d vertices, %d triangles\n", elapsed, len(mesh.Vertices), len(mesh.Triangles))
	fmt.Printf("Heap delta: %.2f MB\n", float64(memAfter.Alloc-memBefore.Alloc)/(1024*1024))
	if len(mesh.Vertices) == 0 {
		fmt.Println("✗ expected a non-empty mesh")
		return
	}
	fmt.Println("✓ extraction completed")
}
