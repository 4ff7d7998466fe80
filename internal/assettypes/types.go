package assettypes

// AssetType represents the classification of an indexed asset.
type AssetType string

const (
	// AssetTypeTexture represents an image/texture file.
	AssetTypeTexture AssetType = "texture"
	// AssetTypeModel represents a 3D model file.
	AssetTypeModel AssetType = "model"
	// AssetTypeMaterial represents a material definition.
	AssetTypeMaterial AssetType = "material"
	// AssetTypePrefab represents a composed object template.
	AssetTypePrefab AssetType = "prefab"
	// AssetTypeAudio represents an audio clip.
	AssetTypeAudio AssetType = "audio"
	// AssetTypeShader represents a shader source file.
	AssetTypeShader AssetType = "shader"
	// AssetTypeScene represents a scene file.
	AssetTypeScene AssetType = "scene"
	// AssetTypeScriptableObject represents a serialized data object.
	AssetTypeScriptableObject AssetType = "scriptable_object"
	// AssetTypeUnknown represents an unrecognized file type.
	AssetTypeUnknown AssetType = "unknown"
)

// TextureExtensions maps file extensions to whether they classify as textures.
var TextureExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tga":  true,
	".psd":  true,
	".bmp":  true,
	".gif":  true,
	".exr":  true,
	".hdr":  true,
}

// ModelExtensions maps file extensions to whether they classify as models.
var ModelExtensions = map[string]bool{
	".fbx":   true,
	".obj":   true,
	".blend": true,
	".dae":   true,
	".gltf":  true,
	".glb":   true,
	".3ds":   true,
	".max":   true,
}

// AudioExtensions maps file extensions to whether they classify as audio.
var AudioExtensions = map[string]bool{
	".wav":  true,
	".mp3":  true,
	".ogg":  true,
	".aiff": true,
	".aif":  true,
	".flac": true,
}

// ShaderExtensions maps file extensions to whether they classify as shaders.
var ShaderExtensions = map[string]bool{
	".shader":         true,
	".shadergraph":    true,
	".shadersubgraph": true,
	".compute":        true,
	".cginc":          true,
	".hlsl":           true,
	".glsl":           true,
}

// descriptorTypes are asset types whose contents are text descriptors that
// can reference other assets by external id.
var descriptorTypes = map[AssetType]bool{
	AssetTypeMaterial:         true,
	AssetTypePrefab:           true,
	AssetTypeScene:            true,
	AssetTypeScriptableObject: true,
}

// decodableExtensions are texture formats the thumbnail pipeline can decode.
var decodableExtensions = map[string]bool{
	".png":  true,
	".jpg":  true,
	".jpeg": true,
	".tga":  true,
	".psd":  true,
	".bmp":  true,
	".gif":  true,
	".webp": true,
}

// Classify returns the AssetType for a given file extension.
// The extension should be lowercase and include the leading dot (e.g., ".png").
// Returns AssetTypeUnknown if the extension is not recognized.
func Classify(ext string) AssetType {
	if TextureExtensions[ext] {
		return AssetTypeTexture
	}
	if ModelExtensions[ext] {
		return AssetTypeModel
	}
	if AudioExtensions[ext] {
		return AssetTypeAudio
	}
	if ShaderExtensions[ext] {
		return AssetTypeShader
	}
	switch ext {
	case ".mat":
		return AssetTypeMaterial
	case ".prefab":
		return AssetTypePrefab
	case ".unity":
		return AssetTypeScene
	case ".asset":
		return AssetTypeScriptableObject
	}
	return AssetTypeUnknown
}

// IsDescriptor returns true if assets of this type carry text descriptors
// that the dependency resolver should parse.
func IsDescriptor(t AssetType) bool {
	return descriptorTypes[t]
}

// IsDecodable returns true if the thumbnail pipeline can decode the given
// texture extension. The extension should be lowercase with a leading dot.
func IsDecodable(ext string) bool {
	return decodableExtensions[ext]
}

// Valid returns true if t is a recognized asset type value.
func Valid(t AssetType) bool {
	switch t {
	case AssetTypeTexture, AssetTypeModel, AssetTypeMaterial, AssetTypePrefab,
		AssetTypeAudio, AssetTypeShader, AssetTypeScene, AssetTypeScriptableObject,
		AssetTypeUnknown:
		return true
	}
	return false
}
