/*
 * Settings file
 *
 * SPDX-License-Identifier: BSD-2-Clause
 */

package main

import (
	"io"
	"io/ioutil"

	yaml "gopkg.in/yaml.v2"
)

// settings mirrors the configuration commands so a conversion can be
// set up from one file:
//
//     domain: example.com
//     encoding: windows-1252
//     default-comment: "(none)"
//     retry: 3,ignore
//     authors: authors.map
//     runlog: export.log
//     log: [+mapper, -warn]
//     flags: {committer-is-author: true}
type settings struct {
	Domain         string          `yaml:"domain"`
	Encoding       string          `yaml:"encoding"`
	DefaultComment string          `yaml:"default-comment"`
	Retry          string          `yaml:"retry"`
	Authors        string          `yaml:"authors"`
	RunLog         string          `yaml:"runlog"`
	Log            []string        `yaml:"log"`
	Flags          map[string]bool `yaml:"flags"`
}

func readSettings(fp io.Reader) (*settings, error) {
	data, err := ioutil.ReadAll(fp)
	if err != nil {
		return nil, err
	}
	s := new(settings)
	if err := yaml.UnmarshalStrict(data, s); err != nil {
		return nil, err
	}
	return s, nil
}
