/*
	spiflash-loader
	Copyright (c) 2024 Arduino LLC.  All right reserved.

	This program is free software: you can redistribute it and/or modify
	it under the terms of the GNU Affero General Public License as published
	by the Free Software Foundation, either version 3 of the License, or
	(at your option) any later version.

	This program is distributed in the hope that it will be useful,
	but WITHOUT ANY WARRANTY; without even the implied warranty of
	MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
	GNU Affero General Public License for more details.

	You should have received a copy of the GNU Affero General Public License
	along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/

package download

import (
	"bytes"
	"crypto"
	_ "crypto/md5"
	_ "crypto/sha1"
	_ "crypto/sha256"
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"net/url"
	"path"
	"strings"

	"github.com/arduino/go-paths-helper"
	"github.com/sirupsen/logrus"
	"go.bug.st/downloader/v2"
)

// IsURL reports whether image names a remote image rather than a local file.
func IsURL(image string) bool {
	return strings.HasPrefix(image, "http://") || strings.HasPrefix(image, "https://")
}

// DownloadImage fetches the image at imageURL into dir. If checksum is not
// empty the downloaded file is verified against it, and if size is positive
// the file size is checked too.
func DownloadImage(imageURL string, dir *paths.Path, checksum string, size int64) (*paths.Path, error) {
	u, err := url.Parse(imageURL)
	if err != nil {
		logrus.Error(err)
		return nil, err
	}
	name := path.Base(u.Path)
	if name == "/" || name == "." {
		name = "image.mcs"
	}
	imagePath := dir.Join(name)
	if err := imagePath.Parent().MkdirAll(); err != nil {
		logrus.Error(err)
		return nil, err
	}
	if err := imagePath.WriteFile(nil); err != nil {
		logrus.Error(err)
		return nil, err
	}
	logrus.Infof("Downloading %s to %s", imageURL, imagePath)
	d, err := downloader.Download(imagePath.String(), imageURL)
	if err != nil {
		logrus.Error(err)
		return nil, err
	}
	if err := Download(d); err != nil {
		logrus.Error(err)
		return nil, err
	}
	if checksum != "" {
		if err := VerifyFileChecksum(checksum, imagePath); err != nil {
			logrus.Error(err)
			return nil, err
		}
	}
	if size > 0 {
		if err := VerifyFileSize(size, imagePath); err != nil {
			logrus.Error(err)
			return nil, err
		}
	}
	return imagePath, nil
}

// Download will take a downloader.Downloader as parameter. It will Download the file specified in the downloader
func Download(d *downloader.Downloader) error {
	if d == nil {
		// This signal means that the file is already downloaded
		return nil
	}
	if err := d.Run(); err != nil {
		return fmt.Errorf("failed to download file from %s : %s", d.URL, err)
	}
	// The URL is not reachable for some reason
	if d.Resp.StatusCode >= 400 && d.Resp.StatusCode <= 599 {
		return fmt.Errorf("failed to download file from %s : %s", d.URL, d.Resp.Status)
	}
	return nil
}

// VerifyFileChecksum checks filePath against a checksum in the form
// ALGORITHM:hexdigest, with ALGORITHM one of SHA-256, SHA-1 or MD5.
func VerifyFileChecksum(checksum string, filePath *paths.Path) error {
	if checksum == "" {
		return fmt.Errorf("missing checksum for: %s", filePath)
	}
	split := strings.SplitN(checksum, ":", 2)
	if len(split) != 2 {
		return fmt.Errorf("invalid checksum format: %s", checksum)
	}
	digest, err := hex.DecodeString(split[1])
	if err != nil {
		return fmt.Errorf("invalid hash '%s': %s", split[1], err)
	}

	var algo hash.Hash
	switch split[0] {
	case "SHA-256":
		algo = crypto.SHA256.New()
	case "SHA-1":
		algo = crypto.SHA1.New()
	case "MD5":
		algo = crypto.MD5.New()
	default:
		return fmt.Errorf("unsupported hash algorithm: %s", split[0])
	}

	file, err := filePath.Open()
	if err != nil {
		return fmt.Errorf("opening file: %s", err)
	}
	defer file.Close()
	if _, err := io.Copy(algo, file); err != nil {
		return fmt.Errorf("computing hash: %s", err)
	}
	if !bytes.Equal(algo.Sum(nil), digest) {
		return fmt.Errorf("image hash differs from the expected %s", checksum)
	}

	return nil
}

// VerifyFileSize checks that filePath is size bytes long.
func VerifyFileSize(size int64, filePath *paths.Path) error {
	info, err := filePath.Stat()
	if err != nil {
		return fmt.Errorf("getting image info: %s", err)
	}
	if info.Size() != size {
		return fmt.Errorf("image size %d differs from the expected %d", info.Size(), size)
	}

	return nil
}
