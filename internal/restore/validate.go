package restore

import (
	"errors"
	"fmt"

	"github.com/dustin/go-humanize"
)

// DefaultSlackWarning is the amount of unused target space above which
// a restore warns
const DefaultSlackWarning = 1_000_000

var (
	// ErrEmptyImage is returned for images of size 0
	ErrEmptyImage = errors.New("cannot restore image of size 0")
	// ErrImageTooLarge is returned when the image does not fit the target
	ErrImageTooLarge = errors.New("disk image is bigger than the target device")
	// ErrZeroCapacity is returned when the opened target reports size 0
	ErrZeroCapacity = errors.New("target device has zero capacity")
)

// Validate checks that an image of imageSize fits a device of deviceSize.
// It returns a warning when more than slack bytes of the device are left
// unused.
func Validate(imageSize, deviceSize, slack uint64) (string, error) {
	if imageSize == 0 {
		return "", ErrEmptyImage
	}
	if imageSize > deviceSize {
		return "", fmt.Errorf("%w by %s", ErrImageTooLarge, humanize.Bytes(imageSize-deviceSize))
	}
	if deviceSize-imageSize > slack {
		return fmt.Sprintf("The disk image is %s smaller than the target device",
			humanize.Bytes(deviceSize-imageSize)), nil
	}
	return "", nil
}
