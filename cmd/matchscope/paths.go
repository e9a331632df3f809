package main

import "tools.zach/dev/matchscope/internal/paths"

// ///////////////////////////////////////////////
// Path Aliases
// ///////////////////////////////////////////////

// DataPaths aliases [paths.DataDir] into the main package so that daemon
// code can reference path helpers without qualifying the internal package
// name. Path construction is platform-independent; [filepath.Join] inside
// [paths.DataDir] handles OS-specific separators.
type DataPaths = paths.DataDir
