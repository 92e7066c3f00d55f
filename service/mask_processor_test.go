package service

import (
	"image"
	"image/color"
	"testing"

	"github.com/TIANLI0/CrackKit/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMaskProcessor_RemovesSpecks(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 40, 40))
	// 20x20 实心块
	for y := 10; y < 30; y++ {
		for x := 10; x < 30; x++ {
			mask.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	// 孤立噪点
	mask.SetGray(2, 2, color.Gray{Y: 255})
	// 低于阈值的灰度
	mask.SetGray(35, 35, color.Gray{Y: 100})

	mp := NewMaskProcessor(&config.OverlayConfig{RefineKernel: 3})
	out, err := mp.Refine(mask)
	require.NoError(t, err)

	assert.Equal(t, mask.Bounds(), out.Bounds())
	assert.Equal(t, uint8(0), out.GrayAt(2, 2).Y)
	assert.Equal(t, uint8(0), out.GrayAt(35, 35).Y)
	assert.Equal(t, uint8(255), out.GrayAt(20, 20).Y)
}

func TestMaskProcessor_RefineEdges(t *testing.T) {
	mask := image.NewGray(image.Rect(0, 0, 30, 30))
	for y := 5; y < 25; y++ {
		for x := 5; x < 25; x++ {
			mask.SetGray(x, y, color.Gray{Y: 255})
		}
	}

	mp := NewMaskProcessor(&config.OverlayConfig{RefineKernel: 3, RefineEdges: true})
	out, err := mp.Refine(mask)
	require.NoError(t, err)

	assert.Equal(t, uint8(255), out.GrayAt(15, 15).Y)
	assert.Equal(t, uint8(0), out.GrayAt(0, 0).Y)
	for _, p := range out.Pix {
		assert.True(t, p == 0 || p == 255)
	}
}

func TestNewMaskProcessor_DefaultKernel(t *testing.T) {
	mp := NewMaskProcessor(&config.OverlayConfig{})
	assert.Equal(t, 3, mp.kernelSize)
	assert.False(t, mp.refineEdges)
}
