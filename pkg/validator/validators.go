// Copyright 2021 The VPN House Authors. All rights reserved.
// Use of this source code is governed by a AGPL-style
// license that can be found in the LICENSE file.

package validator

import (
	"errors"
	"net"
	"strconv"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/asaskevich/govalidator"
	"gopkg.in/hlandau/passlib.v1"
	"gopkg.in/hlandau/passlib.v1/abstract"
)

// MagnetList is a list of magnet links of the torrents to add on start.
type MagnetList []string

func init() {
	govalidator.TagMap["listen_addr"] = isListenAddr
	govalidator.TagMap["path"] = govalidator.IsUnixFilePath
	govalidator.TagMap["hash"] = isPasswordHash
	govalidator.TagMap["natural"] = isNatural

	govalidator.CustomTypeTagMap.Set("magnetlist", isMagnetList)
}

// ValidateStruct checks the `valid` tags of s,
// every failed field is reported in the returned error.
func ValidateStruct(s interface{}) error {
	ok, err := govalidator.ValidateStruct(s)
	if err != nil {
		return err
	}
	if !ok {
		return errors.New("validation failed")
	}
	return nil
}

// FieldErrors returns the names of the fields failed the validation.
func FieldErrors(err error) []string {
	var errs govalidator.Errors
	if !errors.As(err, &errs) {
		return nil
	}

	var fields []string
	for _, e := range errs.Errors() {
		var fe govalidator.Error
		if errors.As(e, &fe) {
			fields = append(fields, fe.Name)
			continue
		}
		fields = append(fields, FieldErrors(e)...)
	}
	return fields
}

func isListenAddr(s string) bool {
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return false
	}
	if !govalidator.IsPort(port) {
		return false
	}
	// dual-stack listener
	if len(host) == 0 {
		return true
	}

	return govalidator.IsHost(host) || govalidator.IsIP(host)
}

func isNatural(str string) bool {
	v, err := strconv.ParseInt(str, 10, 64)
	if err != nil {
		return false
	}

	return v >= 0
}

func isPasswordHash(str string) bool {
	err := passlib.VerifyNoUpgrade("", str)
	if errors.Is(err, abstract.ErrUnsupportedScheme) {
		return false
	}
	return true
}

func isMagnetList(value interface{}, _ interface{}) bool {
	var list []string
	switch v := value.(type) {
	case []string:
		list = v
	case MagnetList:
		list = v
	default:
		return false
	}

	for _, m := range list {
		// the client accepts only magnets carrying an info hash
		if _, err := metainfo.ParseMagnetUri(m); err != nil {
			return false
		}
	}

	return true
}
