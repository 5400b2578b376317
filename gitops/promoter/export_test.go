package promoter

// ScalarAtForTest exposes scalarAt.
var ScalarAtForTest = scalarAt

// SquashForTest exposes squash.
var SquashForTest = squash
