// Copyright (c) 2025 FGP
// Licensed under the MIT License. See LICENSE file in the project root for details.

package main

import "fgp/postgres/cmd"

func main() {
	cmd.Execute()
}
