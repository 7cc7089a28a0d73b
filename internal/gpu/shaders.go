package gpu

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/naga"
)

// Embedded WGSL shader sources.

//go:embed shaders/volume.wgsl
var volumeShaderSource string

//go:embed shaders/quad.wgsl
var quadShaderSource string

// VolumeShaderSource returns the ray-marching compute shader.
func VolumeShaderSource() string { return volumeShaderSource }

// volumeWorkgroupSize is the attribute in volume.wgsl that VolumeShaderFor
// rewrites. It must match DefaultLocalSize.
const volumeWorkgroupSize = "@workgroup_size(16, 16, 1)"

// VolumeShaderFor returns the ray-marching shader with localSize x localSize
// work groups, so that ComputeTexture.WorkGroups covers every texel.
// localSize <= 0 selects DefaultLocalSize.
func VolumeShaderFor(localSize int) string {
	if localSize <= 0 || localSize == DefaultLocalSize {
		return volumeShaderSource
	}
	return strings.Replace(volumeShaderSource, volumeWorkgroupSize,
		fmt.Sprintf("@workgroup_size(%d, %d, 1)", localSize, localSize), 1)
}

// QuadShaderSource returns the composite shader.
func QuadShaderSource() string { return quadShaderSource }

// Compiler turns WGSL source into SPIR-V words.
type Compiler func(source string) ([]uint32, error)

// NagaCompiler compiles WGSL with naga.
func NagaCompiler(source string) ([]uint32, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return nil, err
	}
	if len(spirvBytes)%4 != 0 {
		return nil, fmt.Errorf("gpu: SPIR-V size %d is not a multiple of 4", len(spirvBytes))
	}

	// SPIR-V is little-endian 32-bit words
	words := make([]uint32, len(spirvBytes)/4)
	for i := range words {
		words[i] = uint32(spirvBytes[i*4]) |
			uint32(spirvBytes[i*4+1])<<8 |
			uint32(spirvBytes[i*4+2])<<16 |
			uint32(spirvBytes[i*4+3])<<24
	}
	return words, nil
}

// MaxLights is the number of light slots in the volume shader.
const MaxLights = 4

// LightField returns the uniform name of a member of light i.
func LightField(i int, member string) string {
	return fmt.Sprintf("lights[%d].%s", i, member)
}

// VolumeUniformLayout returns the layout of the Params block of volume.wgsl.
func VolumeUniformLayout() *UniformLayout {
	fields := []UniformField{
		{"viewMatrix", UniformMat4},
		{"projectionMatrix", UniformMat4},
		{"texelSize", UniformVec3},
		{"depthSampleNumber", UniformInt},
		{"backgroundColor", UniformVec3},
		{"lutShape", UniformInt},
		{"lightColor", UniformVec3},
		{"shading", UniformInt},
		{"renderingType", UniformInt},
		{"mipType", UniformInt},
		{"mipThickness", UniformFloat},
		{"textureDataType", UniformInt},
		{"opacityFactor", UniformFloat},
		{"inputLevelMin", UniformFloat},
		{"inputLevelMax", UniformFloat},
		{"outputLevelMin", UniformFloat},
		{"outputLevelMax", UniformFloat},
		{"windowWidth", UniformFloat},
		{"windowCenter", UniformFloat},
	}
	// The lights array comes last so its 16-byte stride needs no trailing padding.
	for i := 0; i < MaxLights; i++ {
		fields = append(fields,
			UniformField{LightField(i, "position"), UniformVec4},
			UniformField{LightField(i, "ambient"), UniformFloat},
			UniformField{LightField(i, "diffuse"), UniformFloat},
			UniformField{LightField(i, "specular"), UniformFloat},
			UniformField{LightField(i, "specularPower"), UniformFloat},
			UniformField{LightField(i, "enabled"), UniformInt},
		)
	}
	return NewUniformLayout(fields...)
}

// Bindings of the volume program.
const (
	VolumeBindingTexture  = 1
	VolumeBindingColorMap = 2
	VolumeBindingLighting = 3
	VolumeBindingSampler  = 4
	VolumeBindingOutput   = 5
)

// VolumeProgramDescriptor describes the ray-marching compute program with
// localSize x localSize work groups.
func VolumeProgramDescriptor(compiler Compiler, localSize int) ProgramDescriptor {
	return ProgramDescriptor{
		Label:    "volume",
		Stages:   []Stage{{Kind: StageCompute, Source: VolumeShaderFor(localSize), EntryPoint: "cs_main"}},
		Uniforms: VolumeUniformLayout(),
		Resources: []ResourceSlot{
			{Binding: VolumeBindingTexture, Kind: ResourceTexture3D},
			{Binding: VolumeBindingColorMap, Kind: ResourceTexture2D},
			{Binding: VolumeBindingLighting, Kind: ResourceTexture2D},
			{Binding: VolumeBindingSampler, Kind: ResourceSampler},
			{Binding: VolumeBindingOutput, Kind: ResourceStorageTexture, Format: gputypes.TextureFormatRGBA8Unorm},
		},
		Compiler: compiler,
	}
}

// Bindings of the quad program.
const (
	QuadBindingTexture = 0
	QuadBindingSampler = 1
)

// QuadProgramDescriptor describes the composite program drawing into target.
func QuadProgramDescriptor(compiler Compiler, target gputypes.TextureFormat) ProgramDescriptor {
	blend := gputypes.BlendStateAlpha()
	return ProgramDescriptor{
		Label: "quad",
		Stages: []Stage{
			{Kind: StageVertex, Source: quadShaderSource, EntryPoint: "vs_main"},
			{Kind: StageFragment, Source: quadShaderSource, EntryPoint: "fs_main"},
		},
		Resources: []ResourceSlot{
			{Binding: QuadBindingTexture, Kind: ResourceTexture2D},
			{Binding: QuadBindingSampler, Kind: ResourceSampler},
		},
		ColorTarget: target,
		Blend:       &blend,
		Compiler:    compiler,
	}
}
