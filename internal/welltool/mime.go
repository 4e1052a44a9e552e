package welltool

// mimeTypes and the binary-detection heuristic below are grounded on
// Dhanuzh-dcode's tool/read.go (getMIMEType/isBinaryFile), trimmed to
// the extensions this module's Read tool actually classifies.
var mimeTypes = map[string]string{
	".png": "image/png", ".jpg": "image/jpeg", ".jpeg": "image/jpeg",
	".gif": "image/gif", ".webp": "image/webp", ".bmp": "image/bmp",
	".svg": "image/svg+xml", ".ico": "image/x-icon",
	".zip": "application/zip", ".tar": "application/x-tar", ".gz": "application/gzip",
	".exe": "application/x-msdownload", ".dll": "application/x-msdownload",
	".so": "application/x-sharedlib", ".wasm": "application/wasm",
	".pdf": "application/pdf",
}

func mimeOf(ext string) string {
	if m, ok := mimeTypes[ext]; ok {
		return m
	}
	return "application/octet-stream"
}

var binaryExtensions = map[string]bool{
	".zip": true, ".tar": true, ".gz": true, ".7z": true, ".rar": true,
	".exe": true, ".dll": true, ".so": true, ".o": true, ".a": true, ".wasm": true,
	".class": true, ".jar": true, ".pyc": true, ".bin": true, ".dat": true,
	".mp3": true, ".mp4": true, ".wav": true, ".avi": true, ".mov": true,
	".db": true, ".sqlite": true, ".iso": true, ".dmg": true,
}

// isBinary applies the teacher's two-tier strategy: a known-extension
// table, then a content sniff (NUL byte, or >30% non-printable bytes in
// the first 4KB).
func isBinary(ext string, data []byte) bool {
	if binaryExtensions[ext] {
		return true
	}
	if len(data) == 0 {
		return false
	}
	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	nonPrintable := 0
	for _, b := range sample {
		if b == 0 {
			return true
		}
		if b < 9 || (b > 13 && b < 32) {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(sample)) > 0.3
}
