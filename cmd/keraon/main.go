// Copyright (C) The Keraon Authors. All rights reserved.
//
// SPDX-License-Identifier: GPL-3.0

package main

import (
	keraon "github.com/GavinHaLab/Keraon"
)

func main() {
	keraon.Main()
}
