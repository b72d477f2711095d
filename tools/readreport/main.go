// Copyright (c) 2026 TTBT Enterprises LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Command readreport dumps raw files of a report store as JSON, decrypting
// them with the key protected by SV_MASTER_KEY.
//
//	readreport --data-dir data reports/<id>.json data/reports/<id>.meta.json
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/c2FmZQ/storage"
	"github.com/c2FmZQ/storage/crypto"

	"github.com/ttbt-io/sceneverify/harness"
	"github.com/ttbt-io/sceneverify/reportstore"
)

var dataDir = flag.String("data-dir", "data", "Directory of the report store")

func main() {
	flag.Parse()

	var masterKey crypto.MasterKey
	keyFile := filepath.Join(*dataDir, "master.key")
	if passphrase := os.Getenv("SV_MASTER_KEY"); passphrase != "" {
		var err error
		if masterKey, err = crypto.ReadMasterKey([]byte(passphrase), keyFile); err != nil {
			log.Fatalf("Failed to read master key: %v", err)
		}
	} else if _, err := os.Stat(keyFile); err == nil {
		log.Fatalf("%s exists but SV_MASTER_KEY is not set. Refusing to read encrypted data in unencrypted mode.", keyFile)
	}
	store := storage.New(*dataDir, masterKey)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")

	for _, arg := range flag.Args() {
		arg = strings.TrimPrefix(strings.TrimPrefix(arg, *dataDir), "/")
		var obj any
		if strings.HasSuffix(arg, ".meta.json") {
			obj = new(reportstore.Meta)
		} else {
			obj = new(harness.Report)
		}
		if err := store.ReadDataFile(arg, obj); err != nil {
			log.Printf("%s: %v", arg, err)
			continue
		}
		fmt.Printf("=========== %s ===========\n", arg)
		if err := enc.Encode(obj); err != nil {
			log.Printf("JSON: %s: %v", arg, err)
		}
	}
}
