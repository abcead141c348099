package ffbuild

import (
	"fmt"
	"path"
	"strings"
)

// BuildKind names the native build system a library uses.
type BuildKind string

const (
	KindAutotools BuildKind = "autotools"
	KindCMake     BuildKind = "cmake"
	KindMeson     BuildKind = "meson"
	KindScript    BuildKind = "script" // project-specific ./configure that is not autoconf
)

// VersionFromGit marks a library that tracks source control instead of releases.
const VersionFromGit = "git"

// Library describes one third-party dependency. Source and Archive are
// templates: {version} is replaced by Version, {version_} by Version with
// dots turned into underscores. Flags may reference target placeholders,
// see expandFlags.
type Library struct {
	Name          string
	Version       string
	VersionEnv    string
	Source        string
	Archive       string
	Git           string
	Branch        string
	Kind          BuildKind
	Flags         []string
	Depends       []string
	Patches       []Patch
	PolicyMinimum string
	SourceSubdir  string
	Autogen       bool
	FFmpegFlags   []string
}

// FromGit reports whether the library is cloned rather than downloaded.
func (l Library) FromGit() bool {
	return l.Version == VersionFromGit
}

func (l Library) expand(tmpl string) string {
	return strings.NewReplacer(
		"{version}", l.Version,
		"{version_}", strings.ReplaceAll(l.Version, ".", "_"),
	).Replace(tmpl)
}

// URL returns the download locator for this version.
func (l Library) URL() string {
	return l.expand(l.Source)
}

// ArchiveName is the canonical filename the archive is cached under.
func (l Library) ArchiveName() string {
	if l.Archive != "" {
		return l.expand(l.Archive)
	}
	return path.Base(l.URL())
}

// SourceDirName is the directory the library is unpacked into inside the work dir.
func (l Library) SourceDirName() string {
	if l.FromGit() {
		return l.Name
	}
	return fmt.Sprintf("%s-%s", l.Name, l.Version)
}

// Label is the human-facing name@version form used in status lines.
func (l Library) Label() string {
	if l.FromGit() {
		return fmt.Sprintf("%s@%s", l.Name, l.Branch)
	}
	return fmt.Sprintf("%s@%s", l.Name, l.Version)
}

// Catalog returns the library table in its curated order. Each call returns
// fresh values; callers may override versions on their copy.
func Catalog() []Library {
	return []Library{
		{
			Name: "zlib", Version: "1.3.1", VersionEnv: "ZLIB_VERSION",
			Source:      "https://zlib.net/fossils/zlib-{version}.tar.gz",
			Kind:        KindScript,
			Flags:       []string{"--prefix={prefix}", "--static"},
			FFmpegFlags: []string{"--enable-zlib"},
		},
		{
			Name: "libpng", Version: "1.6.43", VersionEnv: "LIBPNG_VERSION",
			Source:  "https://download.sourceforge.net/libpng/libpng-{version}.tar.xz",
			Kind:    KindAutotools,
			Depends: []string{"zlib"},
		},
		{
			Name: "freetype", Version: "2.13.2", VersionEnv: "FREETYPE_VERSION",
			Source:      "https://download.savannah.gnu.org/releases/freetype/freetype-{version}.tar.xz",
			Kind:        KindAutotools,
			Flags:       []string{"--with-zlib=yes", "--with-png=yes", "--with-harfbuzz=no", "--with-brotli=no", "--with-bzip2=no"},
			Depends:     []string{"zlib", "libpng"},
			FFmpegFlags: []string{"--enable-libfreetype"},
		},
		{
			Name: "fribidi", Version: "1.0.15", VersionEnv: "FRIBIDI_VERSION",
			Source:      "https://github.com/fribidi/fribidi/releases/download/v{version}/fribidi-{version}.tar.xz",
			Kind:        KindAutotools,
			Flags:       []string{"--disable-debug", "--disable-deprecated"},
			FFmpegFlags: []string{"--enable-libfribidi"},
		},
		{
			Name: "libunibreak", Version: "6.1", VersionEnv: "LIBUNIBREAK_VERSION",
			Source: "https://github.com/adah1972/libunibreak/releases/download/libunibreak_{version_}/libunibreak-{version}.tar.gz",
			Kind:   KindAutotools,
		},
		{
			Name: "harfbuzz", Version: "8.5.0", VersionEnv: "HARFBUZZ_VERSION",
			Source: "https://github.com/harfbuzz/harfbuzz/releases/download/{version}/harfbuzz-{version}.tar.xz",
			Kind:   KindMeson,
			Flags: []string{"-Dfreetype=enabled", "-Dglib=disabled", "-Dgobject=disabled", "-Dcairo=disabled",
				"-Dicu=disabled", "-Dtests=disabled", "-Ddocs=disabled", "-Dintrospection=disabled"},
			Depends:     []string{"freetype", "fribidi"},
			FFmpegFlags: []string{"--enable-libharfbuzz"},
		},
		{
			Name: "libass", Version: "0.17.3", VersionEnv: "LIBASS_VERSION",
			Source:      "https://github.com/libass/libass/releases/download/{version}/libass-{version}.tar.xz",
			Kind:        KindAutotools,
			Flags:       []string{"--disable-fontconfig", "--disable-require-system-font-provider", "--enable-libunibreak"},
			Depends:     []string{"freetype", "fribidi", "harfbuzz", "libunibreak"},
			FFmpegFlags: []string{"--enable-libass"},
		},
		{
			Name: "lame", Version: "3.100", VersionEnv: "LAME_VERSION",
			Source:      "https://downloads.sourceforge.net/project/lame/lame/{version}/lame-{version}.tar.gz",
			Kind:        KindAutotools,
			Flags:       []string{"--disable-frontend", "--disable-gtktest"},
			FFmpegFlags: []string{"--enable-libmp3lame"},
		},
		{
			Name: "opus", Version: "1.5.2", VersionEnv: "OPUS_VERSION",
			Source:      "https://downloads.xiph.org/releases/opus/opus-{version}.tar.gz",
			Kind:        KindAutotools,
			Flags:       []string{"--disable-doc", "--disable-extra-programs"},
			FFmpegFlags: []string{"--enable-libopus"},
		},
		{
			Name: "libogg", Version: "1.3.5", VersionEnv: "LIBOGG_VERSION",
			Source: "https://downloads.xiph.org/releases/ogg/libogg-{version}.tar.xz",
			Kind:   KindAutotools,
		},
		{
			Name: "libvorbis", Version: "1.3.7", VersionEnv: "LIBVORBIS_VERSION",
			Source:      "https://downloads.xiph.org/releases/vorbis/libvorbis-{version}.tar.xz",
			Kind:        KindAutotools,
			Flags:       []string{"--disable-oggtest", "--disable-docs", "--disable-examples"},
			Depends:     []string{"libogg"},
			FFmpegFlags: []string{"--enable-libvorbis"},
		},
		{
			Name: "libtheora", Version: "1.1.1", VersionEnv: "LIBTHEORA_VERSION",
			Source:      "https://downloads.xiph.org/releases/theora/libtheora-{version}.tar.bz2",
			Kind:        KindAutotools,
			Flags:       []string{"--disable-examples", "--disable-oggtest", "--disable-vorbistest", "--disable-sdltest", "--disable-asm"},
			Depends:     []string{"libogg", "libvorbis"},
			FFmpegFlags: []string{"--enable-libtheora"},
		},
		{
			Name: "speex", Version: "1.2.1", VersionEnv: "SPEEX_VERSION",
			Source:      "https://downloads.xiph.org/releases/speex/speex-{version}.tar.gz",
			Kind:        KindAutotools,
			Flags:       []string{"--disable-binaries"},
			Depends:     []string{"libogg"},
			FFmpegFlags: []string{"--enable-libspeex"},
		},
		{
			Name: "x264", Version: VersionFromGit, VersionEnv: "X264_BRANCH", Branch: "stable",
			Git:  "https://code.videolan.org/videolan/x264.git",
			Kind: KindScript,
			Flags: []string{"--prefix={prefix}", "--host={host}", "--enable-static", "--enable-pic",
				"--disable-cli", "--disable-opencl"},
			FFmpegFlags: []string{"--enable-libx264"},
		},
		{
			Name: "x265", Version: "3.6", VersionEnv: "X265_VERSION",
			Source:        "https://bitbucket.org/multicoreware/x265_git/downloads/x265_{version}.tar.gz",
			Kind:          KindCMake,
			SourceSubdir:  "source",
			Flags:         []string{"-DENABLE_SHARED=OFF", "-DENABLE_CLI=OFF", "-DCMAKE_SYSTEM_PROCESSOR={cpu}"},
			Patches:       []Patch{x265PolicyPatch},
			PolicyMinimum: "3.5",
			FFmpegFlags:   []string{"--enable-libx265"},
		},
		{
			Name: "libvpx", Version: "1.14.1", VersionEnv: "LIBVPX_VERSION",
			Source:  "https://github.com/webmproject/libvpx/archive/refs/tags/v{version}.tar.gz",
			Archive: "libvpx-{version}.tar.gz",
			Kind:    KindScript,
			Flags: []string{"--prefix={prefix}", "--target={vpx_target}", "--enable-static", "--disable-shared",
				"--enable-pic", "--disable-examples", "--disable-unit-tests", "--disable-docs",
				"--enable-vp9-highbitdepth"},
			FFmpegFlags: []string{"--enable-libvpx"},
		},
		{
			Name: "libaom", Version: "3.9.1", VersionEnv: "LIBAOM_VERSION",
			Source: "https://storage.googleapis.com/aom-releases/libaom-{version}.tar.gz",
			Kind:   KindCMake,
			Flags: []string{"-DENABLE_TESTS=0", "-DENABLE_EXAMPLES=0", "-DENABLE_DOCS=0", "-DENABLE_TOOLS=0",
				"-DAOM_TARGET_CPU={cpu}"},
			FFmpegFlags: []string{"--enable-libaom"},
		},
		{
			Name: "dav1d", Version: "1.4.3", VersionEnv: "DAV1D_VERSION",
			Source:      "https://code.videolan.org/videolan/dav1d/-/archive/{version}/dav1d-{version}.tar.gz",
			Kind:        KindMeson,
			Flags:       []string{"-Denable_tools=false", "-Denable_tests=false"},
			FFmpegFlags: []string{"--enable-libdav1d"},
		},
		{
			Name: "svtav1", Version: "2.1.2", VersionEnv: "SVTAV1_VERSION",
			Source:      "https://gitlab.com/AOMediaCodec/SVT-AV1/-/archive/v{version}/SVT-AV1-v{version}.tar.gz",
			Kind:        KindCMake,
			Flags:       []string{"-DBUILD_APPS=OFF", "-DBUILD_TESTING=OFF", "-DBUILD_DEC=OFF"},
			FFmpegFlags: []string{"--enable-libsvtav1"},
		},
		{
			Name: "libwebp", Version: "1.4.0", VersionEnv: "LIBWEBP_VERSION",
			Source:      "https://storage.googleapis.com/downloads.webmproject.org/releases/webp/libwebp-{version}.tar.gz",
			Kind:        KindAutotools,
			Flags:       []string{"--disable-png", "--disable-jpeg", "--disable-tiff", "--disable-gif", "--enable-libwebpmux"},
			FFmpegFlags: []string{"--enable-libwebp"},
		},
		{
			Name: "openjpeg", Version: "2.5.2", VersionEnv: "OPENJPEG_VERSION",
			Source:      "https://github.com/uclouvain/openjpeg/archive/refs/tags/v{version}.tar.gz",
			Archive:     "openjpeg-{version}.tar.gz",
			Kind:        KindCMake,
			Flags:       []string{"-DBUILD_CODEC=OFF", "-DBUILD_TESTING=OFF"},
			FFmpegFlags: []string{"--enable-libopenjpeg"},
		},
		{
			Name: "zimg", Version: "3.0.5", VersionEnv: "ZIMG_VERSION",
			Source:      "https://github.com/sekrit-twc/zimg/archive/refs/tags/release-{version}.tar.gz",
			Archive:     "zimg-{version}.tar.gz",
			Kind:        KindAutotools,
			Autogen:     true,
			FFmpegFlags: []string{"--enable-libzimg"},
		},
		{
			Name: "soxr", Version: "0.1.3", VersionEnv: "SOXR_VERSION",
			Source:        "https://downloads.sourceforge.net/project/soxr/soxr-{version}-Source.tar.xz",
			Kind:          KindCMake,
			Flags:         []string{"-DBUILD_TESTS=OFF", "-DBUILD_EXAMPLES=OFF", "-DWITH_OPENMP=OFF"},
			PolicyMinimum: "3.5",
			FFmpegFlags:   []string{"--enable-libsoxr"},
		},
		{
			Name: "vidstab", Version: "1.1.1", VersionEnv: "VIDSTAB_VERSION",
			Source:        "https://github.com/georgmartius/vid.stab/archive/refs/tags/v{version}.tar.gz",
			Archive:       "vidstab-{version}.tar.gz",
			Kind:          KindCMake,
			Flags:         []string{"-DUSE_OMP=OFF"},
			PolicyMinimum: "3.5",
			FFmpegFlags:   []string{"--enable-libvidstab"},
		},
		{
			Name: "snappy", Version: "1.2.1", VersionEnv: "SNAPPY_VERSION",
			Source:      "https://github.com/google/snappy/archive/refs/tags/{version}.tar.gz",
			Archive:     "snappy-{version}.tar.gz",
			Kind:        KindCMake,
			Flags:       []string{"-DSNAPPY_BUILD_TESTS=OFF", "-DSNAPPY_BUILD_BENCHMARKS=OFF"},
			FFmpegFlags: []string{"--enable-libsnappy"},
		},
	}
}

// FFmpeg is the umbrella project. It is not part of the library pipeline
// but shares the descriptor shape for fetching and fingerprinting.
func FFmpeg() Library {
	return Library{
		Name: "ffmpeg", Version: "7.0.2", VersionEnv: "FFMPEG_VERSION",
		Source: "https://ffmpeg.org/releases/ffmpeg-{version}.tar.xz",
		Kind:   KindScript,
		Flags: []string{"--enable-gpl", "--enable-version3", "--enable-videotoolbox", "--enable-audiotoolbox",
			"--disable-ffplay", "--disable-doc", "--disable-debug"},
	}
}

// VersionVariables lists every environment variable that overrides a version.
func VersionVariables() []string {
	var names []string
	for _, lib := range Catalog() {
		names = append(names, lib.VersionEnv)
	}
	ff := FFmpeg()
	return append(names, ff.VersionEnv)
}

// ResolveCatalog applies version overrides from values to the catalog.
// Overrides are used verbatim.
func ResolveCatalog(values map[string]string) []Library {
	libs := Catalog()
	for i := range libs {
		applyVersion(&libs[i], values)
	}
	return libs
}

// ResolveFFmpeg applies FFMPEG_VERSION from values.
func ResolveFFmpeg(values map[string]string) Library {
	ff := FFmpeg()
	applyVersion(&ff, values)
	return ff
}

func applyVersion(lib *Library, values map[string]string) {
	v, ok := values[lib.VersionEnv]
	if !ok || v == "" {
		return
	}
	if lib.FromGit() {
		lib.Branch = v
		return
	}
	lib.Version = v
}
