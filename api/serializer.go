package api

import (
	"errors"
	"io"

	"github.com/bytedance/sonic"
	"github.com/labstack/echo/v4"
)

const maxBodySize = 64 << 10

var errBodyTooLarge = errors.New("request body exceeds 64 KiB")

// sonicSerializer replaces echo's encoding/json based serializer.
type sonicSerializer struct{}

func (sonicSerializer) Serialize(c echo.Context, i interface{}, indent string) error {
	enc := sonic.ConfigStd.NewEncoder(c.Response())
	if indent != "" {
		enc.SetIndent("", indent)
	}
	return enc.Encode(i)
}

// Deserialize reads at most maxBodySize bytes. Larger bodies fail with
// errBodyTooLarge rather than being cut short.
func (sonicSerializer) Deserialize(c echo.Context, i interface{}) error {
	data, err := io.ReadAll(io.LimitReader(c.Request().Body, maxBodySize+1))
	if err != nil {
		return err
	}
	if len(data) > maxBodySize {
		return errBodyTooLarge
	}
	return sonic.ConfigStd.Unmarshal(data, i)
}
