// SPDX-License-Identifier: MPL-2.0

package main

import cmd "github.com/workerhost/workerhost/cmd/workerhost"

func main() {
	cmd.Execute()
}
