package extract

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
)

const (
	mimePPTX = "application/vnd.openxmlformats-officedocument.presentationml.presentation"
	mimeDOCX = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
)

// openZip opens an Office Open XML package.
func openZip(data []byte) (*zip.Reader, error) {
	reader, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("open package: %w", err)
	}
	return reader, nil
}

// readZipFile returns the content of the named part, or found=false.
func readZipFile(reader *zip.Reader, name string) (content []byte, found bool, err error) {
	for _, file := range reader.File {
		if file.Name != name {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, true, fmt.Errorf("open %s: %w", name, err)
		}
		defer rc.Close()
		content, err := io.ReadAll(rc)
		if err != nil {
			return nil, true, fmt.Errorf("read %s: %w", name, err)
		}
		return content, true, nil
	}
	return nil, false, nil
}
